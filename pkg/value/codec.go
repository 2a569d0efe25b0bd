package value

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/apd"
	"github.com/google/uuid"

	"github.com/queryduck/queryduck-go/pkg/qderr"
)

const (
	dateTimeLayout  = "2006-01-02T15:04:05"
	microLayout     = ".000000"
	offsetLayout    = "-07:00"
	offsetSecLayout = "-07:00:00"

	fileOptBase64 = "b64"
)

// Serialize converts a value into its "<kind>:<payload>" wire form.
// A nil value serializes as None.
func Serialize(v Value) (string, error) {
	if v == nil {
		v = Null
	}
	payload, err := serializePayload(v)
	if err != nil {
		return "", err
	}
	return v.Kind().String() + ":" + payload, nil
}

func serializePayload(v Value) (string, error) {
	switch t := v.(type) {
	case Int:
		return strconv.FormatInt(int64(t), 10), nil
	case Bool:
		if t {
			return "True", nil
		}
		return "False", nil
	case Bytes:
		return base64.URLEncoding.EncodeToString(t), nil
	case Decimal:
		return t.String(), nil
	case String:
		return string(t), nil
	case DateTime:
		return formatDateTime(t.t), nil
	case *Statement:
		h, ok := t.Handle()
		if !ok {
			return "", qderr.Valuef("cannot serialize statement without handle")
		}
		return h.String(), nil
	case *Blob:
		if len(t.hash) == 0 {
			return "", qderr.Valuef("cannot serialize blob without hash")
		}
		return t.Handle(), nil
	case *File:
		return serializeFile(t)
	case None:
		return "None", nil
	default:
		return "", qderr.Valuef("unsupported value type %T", v)
	}
}

// Deserialize parses a "<kind>:<payload>" string. Statements and blobs are
// returned as fresh, non-canonical instances.
func Deserialize(s string) (Value, error) {
	tag, payload, ok := strings.Cut(s, ":")
	if !ok {
		return nil, qderr.Valuef("missing kind delimiter in %q", s)
	}
	kind, err := ParseKind(tag)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindInt:
		i, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return nil, qderr.Valuef("invalid int payload %q", payload)
		}
		return Int(i), nil
	case KindBool:
		b, err := strconv.ParseBool(payload)
		if err != nil {
			return nil, qderr.Valuef("invalid bool payload %q", payload)
		}
		return Bool(b), nil
	case KindBytes:
		b, err := decodeBase64(payload)
		if err != nil {
			return nil, qderr.Valuef("invalid bytes payload %q: %v", payload, err)
		}
		return Bytes(b), nil
	case KindDecimal:
		return NewDecimal(payload)
	case KindString:
		return String(payload), nil
	case KindDateTime:
		t, err := parseDateTime(payload)
		if err != nil {
			return nil, err
		}
		return NewDateTime(t), nil
	case KindStatement:
		h, err := uuid.Parse(payload)
		if err != nil {
			return nil, qderr.Valuef("invalid statement handle %q: %v", payload, err)
		}
		return NewStatement(h), nil
	case KindBlob:
		hash, err := decodeBase64(payload)
		if err != nil || len(hash) == 0 {
			return nil, qderr.Valuef("invalid blob handle %q", payload)
		}
		return &Blob{hash: hash}, nil
	case KindFile:
		return parseFile(payload)
	case KindNone:
		return Null, nil
	}
	return nil, qderr.Valuef("invalid value type: %q", tag)
}

// KindOf returns the kind of v, treating nil as None.
func KindOf(v Value) Kind {
	if v == nil {
		return KindNone
	}
	return v.Kind()
}

// Of converts a native Go value into a Value.
func Of(native any) (Value, error) {
	switch n := native.(type) {
	case nil:
		return Null, nil
	case Value:
		return n, nil
	case int:
		return Int(n), nil
	case int8:
		return Int(n), nil
	case int16:
		return Int(n), nil
	case int32:
		return Int(n), nil
	case int64:
		return Int(n), nil
	case uint8:
		return Int(n), nil
	case uint16:
		return Int(n), nil
	case uint32:
		return Int(n), nil
	case bool:
		return Bool(n), nil
	case []byte:
		return Bytes(n), nil
	case string:
		return String(n), nil
	case time.Time:
		return NewDateTime(n), nil
	case *apd.Decimal:
		return DecimalFrom(n), nil
	case apd.Decimal:
		return DecimalFrom(&n), nil
	default:
		return nil, qderr.Valuef("unsupported native type %T", native)
	}
}

// Key returns a string that is identical for two values exactly when they are
// equal. Statements without a handle are keyed by identity.
func Key(v Value) string {
	switch t := v.(type) {
	case nil:
		return KindNone.String() + ":None"
	case Decimal:
		return "dec:" + t.normalized()
	case DateTime:
		return "datetime:" + t.t.UTC().Format(dateTimeLayout+".000000000")
	case *Statement:
		if h, ok := t.Handle(); ok {
			return "s:" + h.String()
		}
		return fmt.Sprintf("s:pending:%p", t)
	}
	s, err := Serialize(v)
	if err != nil {
		return fmt.Sprintf("%s:invalid:%v", v.Kind(), v)
	}
	return s
}

func formatDateTime(t time.Time) string {
	layout := dateTimeLayout
	if t.Nanosecond() != 0 {
		layout += microLayout
	}
	if _, offset := t.Zone(); offset%60 != 0 {
		return t.Format(layout + offsetSecLayout)
	}
	return t.Format(layout + offsetLayout)
}

func parseDateTime(s string) (time.Time, error) {
	// Fractional seconds are accepted by both layouts when parsing.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(dateTimeLayout+offsetSecLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateTimeLayout, s)
	if err != nil {
		return time.Time{}, qderr.Valuef("invalid datetime payload %q", s)
	}
	return t, nil
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func serializeFile(f *File) (string, error) {
	if strings.Contains(f.Volume, ":") {
		return "", qderr.Valuef("volume name %q contains ':'", f.Volume)
	}
	if utf8.Valid(f.Path) {
		return ":" + f.Volume + ":" + string(f.Path), nil
	}
	return fileOptBase64 + ":" + f.Volume + ":" + base64.URLEncoding.EncodeToString(f.Path), nil
}

func parseFile(payload string) (*File, error) {
	parts := strings.SplitN(payload, ":", 3)
	if len(parts) != 3 {
		return nil, qderr.Valuef("invalid file payload %q", payload)
	}
	opts, volume, rawPath := parts[0], parts[1], parts[2]

	path := []byte(rawPath)
	for _, opt := range strings.Split(opts, ",") {
		if opt == fileOptBase64 {
			b, err := decodeBase64(rawPath)
			if err != nil {
				return nil, qderr.Valuef("invalid file path %q: %v", rawPath, err)
			}
			path = b
		}
	}
	return &File{Volume: volume, Path: path}, nil
}
