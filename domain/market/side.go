package market

import (
	"fmt"
	"strings"
)

type Side uint8

const (
	SideUnspecified Side = iota
	Bid
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "BID"
	case Ask:
		return "ASK"
	default:
		return "UNSPECIFIED"
	}
}

// Inverse returns the side an order on s trades against.
func (s Side) Inverse() Side {
	switch s {
	case Bid:
		return Ask
	case Ask:
		return Bid
	default:
		return SideUnspecified
	}
}

func (s Side) Valid() bool {
	return s == Bid || s == Ask
}

func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(v) {
	case "BID":
		return Bid, nil
	case "ASK":
		return Ask, nil
	default:
		return SideUnspecified, fmt.Errorf("invalid side %q", v)
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
