// Package fixtures contains test fixtures for use within this module's tests
// and the tests of its consumers.
package fixtures

import (
	"reflect"

	"github.com/dogmatiq/marshalkit"
	"github.com/dogmatiq/marshalkit/codec"
	"github.com/dogmatiq/marshalkit/codec/json"
)

// MessageA is a stub event message.
type MessageA struct {
	Value string
}

// MessageB is a stub event message.
type MessageB struct {
	Value string
}

// MessageC is a stub command message.
type MessageC struct {
	Value string
}

// Marshaler is a marshaler that can marshal the stub messages and the stub
// saga defined in this package.
var Marshaler marshalkit.Marshaler

func init() {
	var err error

	Marshaler, err = codec.NewMarshaler(
		[]reflect.Type{
			reflect.TypeOf(MessageA{}),
			reflect.TypeOf(MessageB{}),
			reflect.TypeOf(MessageC{}),
			reflect.TypeOf(&SagaStub{}),
		},
		[]codec.Codec{
			&json.Codec{},
		},
	)
	if err != nil {
		panic(err)
	}
}
