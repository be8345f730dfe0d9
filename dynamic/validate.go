package dynamic

import (
	"unicode/utf8"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/jhump/protocodec/codecerr"
)

func validFieldValue(fd protoreflect.FieldDescriptor, val Value) error {
	switch {
	case fd.IsMap():
		if val.typ != MapType {
			return codecerr.Errorf(codecerr.ErrTypeMismatch, "value for map field %s must be a map; instead was %v", fd.FullName(), val.typ)
		}
		keyField, valField := fd.MapKey(), fd.MapValue()
		var err error
		val.mp.Range(func(k, v Value) bool {
			if err = validElementValue(keyField, keyField.Kind(), k); err != nil {
				return false
			}
			err = validElementValue(valField, valField.Kind(), v)
			return err == nil
		})
		return err

	case fd.IsList():
		if val.typ != ListType {
			return codecerr.Errorf(codecerr.ErrTypeMismatch, "value for repeated field %s must be a list; instead was %v", fd.FullName(), val.typ)
		}
		for _, e := range val.list {
			if err := validElementValue(fd, fd.Kind(), e); err != nil {
				return err
			}
		}
		return nil

	default:
		return validElementValue(fd, fd.Kind(), val)
	}
}

func validElementValue(fd protoreflect.FieldDescriptor, kind protoreflect.Kind, val Value) error {
	want := scalarTypeForKind(kind)
	if want == InvalidType {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "field %s has unrecognized kind %v", fd.FullName(), kind)
	}
	if val.typ != want {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "field %s of kind %v requires value of type %v; received %v", fd.FullName(), kind, want, val.typ)
	}
	if want == StringType && !utf8.ValidString(val.str) && RequiresUTF8(fd) {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "string field %s requires valid UTF-8", fd.FullName())
	}
	if want == MessageType {
		md := fd.Message()
		if val.msg.md.FullName() != md.FullName() {
			return codecerr.Errorf(codecerr.ErrTypeMismatch, "message field %s requires value of type %s; received %s", fd.FullName(), md.FullName(), val.msg.md.FullName())
		}
	}
	return nil
}

// RequiresUTF8 reports whether values of the given string field must be valid
// UTF-8. Proto3 strings must be; proto2 strings may hold any bytes. Under
// editions the utf8_validation feature decides, with the nearest explicit
// setting winning.
func RequiresUTF8(fd protoreflect.FieldDescriptor) bool {
	if fd.Kind() != protoreflect.StringKind {
		return false
	}
	switch fd.ParentFile().Syntax() {
	case protoreflect.Proto2:
		return false
	case protoreflect.Proto3:
		return true
	}
	for d := protoreflect.Descriptor(fd); d != nil; d = d.Parent() {
		if f := featuresOf(d); f != nil && f.Utf8Validation != nil {
			return f.GetUtf8Validation() != descriptorpb.FeatureSet_NONE
		}
	}
	// the editions default
	return true
}

func featuresOf(d protoreflect.Descriptor) *descriptorpb.FeatureSet {
	switch opts := d.Options().(type) {
	case *descriptorpb.FieldOptions:
		return opts.GetFeatures()
	case *descriptorpb.OneofOptions:
		return opts.GetFeatures()
	case *descriptorpb.MessageOptions:
		return opts.GetFeatures()
	case *descriptorpb.FileOptions:
		return opts.GetFeatures()
	}
	return nil
}
