// Package pb holds the protobuf schemas of the broker API and of the
// relayer and engine services the broker calls.
//
// Descriptors are assembled here at init and messages are dynamic: they
// are read and written by field name through Message, and travel over
// gRPC with the default proto codec.
package pb

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Schema is one compiled .proto file.
type Schema struct {
	file protoreflect.FileDescriptor
}

func (s *Schema) File() protoreflect.FileDescriptor {
	return s.file
}

// New returns an empty message of the named type. Unknown names panic: they
// are programming errors, not input errors.
func (s *Schema) New(name string) Message {
	md := s.file.Messages().ByName(protoreflect.Name(name))
	if md == nil {
		panic(fmt.Sprintf("pb: %s has no message %s", s.file.Path(), name))
	}
	return Message{dynamicpb.NewMessage(md)}
}

type field struct {
	name  string
	typ   descriptorpb.FieldDescriptorProto_Type
	label descriptorpb.FieldDescriptorProto_Label
	msg   string
}

func str(name string) field {
	return field{name: name, typ: descriptorpb.FieldDescriptorProto_TYPE_STRING}
}

func boolean(name string) field {
	return field{name: name, typ: descriptorpb.FieldDescriptorProto_TYPE_BOOL}
}

func int32f(name string) field {
	return field{name: name, typ: descriptorpb.FieldDescriptorProto_TYPE_INT32}
}

func uint64f(name string) field {
	return field{name: name, typ: descriptorpb.FieldDescriptorProto_TYPE_UINT64}
}

func bytesf(name string) field {
	return field{name: name, typ: descriptorpb.FieldDescriptorProto_TYPE_BYTES}
}

// msg is a field of another message type declared in the same file.
func msg(name, typ string) field {
	return field{name: name, typ: descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, msg: typ}
}

func repeated(f field) field {
	f.label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	return f
}

// message declares a message type. Fields are numbered in the order given,
// so new fields only ever go at the end.
func message(name string, fields ...field) *descriptorpb.DescriptorProto {
	d := &descriptorpb.DescriptorProto{Name: proto.String(name)}
	for i, f := range fields {
		label := f.label
		if label == 0 {
			label = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
		}
		fd := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(f.name),
			Number: proto.Int32(int32(i + 1)),
			Label:  label.Enum(),
			Type:   f.typ.Enum(),
		}
		if f.msg != "" {
			fd.TypeName = proto.String(f.msg)
		}
		d.Field = append(d.Field, fd)
	}
	return d
}

// compile builds a proto3 file. It panics like generated code does when
// its embedded descriptor is invalid.
func compile(path, pkg string, msgs ...*descriptorpb.DescriptorProto) *Schema {
	for _, m := range msgs {
		for _, f := range m.Field {
			if f.TypeName != nil {
				f.TypeName = proto.String("." + pkg + "." + f.GetTypeName())
			}
		}
	}
	fd, err := protodesc.NewFile(&descriptorpb.FileDescriptorProto{
		Name:        proto.String(path),
		Package:     proto.String(pkg),
		Syntax:      proto.String("proto3"),
		MessageType: msgs,
	}, new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("pb: compile %s: %v", path, err))
	}
	return &Schema{file: fd}
}
