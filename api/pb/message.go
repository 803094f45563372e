package pb

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Message is a dynamic message with accessors by field name. Pass the
// embedded *dynamicpb.Message to gRPC.
type Message struct {
	*dynamicpb.Message
}

func (m Message) field(name string) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic(fmt.Sprintf("pb: %s has no field %s", m.Descriptor().FullName(), name))
	}
	return fd
}

// Present reports whether a message field is set.
func (m Message) Present(name string) bool {
	return m.Has(m.field(name))
}

func (m Message) Str(name string) string {
	return m.Get(m.field(name)).String()
}

func (m Message) SetStr(name, v string) Message {
	m.Set(m.field(name), protoreflect.ValueOfString(v))
	return m
}

func (m Message) Bool(name string) bool {
	return m.Get(m.field(name)).Bool()
}

func (m Message) SetBool(name string, v bool) Message {
	m.Set(m.field(name), protoreflect.ValueOfBool(v))
	return m
}

func (m Message) Int(name string) int64 {
	return m.Get(m.field(name)).Int()
}

func (m Message) SetInt(name string, v int64) Message {
	fd := m.field(name)
	if fd.Kind() == protoreflect.Int32Kind {
		m.Set(fd, protoreflect.ValueOfInt32(int32(v)))
		return m
	}
	m.Set(fd, protoreflect.ValueOfInt64(v))
	return m
}

func (m Message) Uint(name string) uint64 {
	return m.Get(m.field(name)).Uint()
}

func (m Message) SetUint(name string, v uint64) Message {
	m.Set(m.field(name), protoreflect.ValueOfUint64(v))
	return m
}

func (m Message) Bytes(name string) []byte {
	return m.Get(m.field(name)).Bytes()
}

func (m Message) SetBytes(name string, v []byte) Message {
	m.Set(m.field(name), protoreflect.ValueOfBytes(v))
	return m
}

// Msg returns a message field; an unset field reads as an empty message.
func (m Message) Msg(name string) Message {
	return wrap(m.Get(m.field(name)).Message())
}

func (m Message) SetMsg(name string, v Message) Message {
	m.Set(m.field(name), protoreflect.ValueOfMessage(v.ProtoReflect()))
	return m
}

// List returns the elements of a repeated message field.
func (m Message) List(name string) []Message {
	l := m.Get(m.field(name)).List()
	out := make([]Message, 0, l.Len())
	for i := range l.Len() {
		out = append(out, wrap(l.Get(i).Message()))
	}
	return out
}

// Add appends to a repeated message field.
func (m Message) Add(name string, v Message) Message {
	m.Mutable(m.field(name)).List().Append(protoreflect.ValueOfMessage(v.ProtoReflect()))
	return m
}

// Strs returns a repeated string field, never nil.
func (m Message) Strs(name string) []string {
	l := m.Get(m.field(name)).List()
	out := make([]string, 0, l.Len())
	for i := range l.Len() {
		out = append(out, l.Get(i).String())
	}
	return out
}

func (m Message) AddStr(name string, vs ...string) Message {
	l := m.Mutable(m.field(name)).List()
	for _, v := range vs {
		l.Append(protoreflect.ValueOfString(v))
	}
	return m
}

func wrap(pm protoreflect.Message) Message {
	if dm, ok := pm.Interface().(*dynamicpb.Message); ok {
		return Message{dm}
	}
	return Message{dynamicpb.NewMessage(pm.Descriptor())}
}
