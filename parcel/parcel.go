package parcel

import (
	"time"

	"github.com/dogmatiq/interopspec/envelopespec"
	"github.com/dogmatiq/marshalkit"
)

// A Parcel is a container for a message envelope and the original message that
// was used to create it.
type Parcel struct {
	// Envelope is the message envelope.
	Envelope *envelopespec.Envelope

	// Message is the original representation of the message.
	Message interface{}

	// CreatedAt is the time at which the message was created.
	CreatedAt time.Time
}

// ID returns the ID of the message.
func (p Parcel) ID() string {
	return p.Envelope.GetMessageId()
}

// FromEnvelope constructs a parcel from an envelope.
func FromEnvelope(
	vm marshalkit.ValueMarshaler,
	env *envelopespec.Envelope,
) (Parcel, error) {
	m, err := marshalkit.UnmarshalMessage(
		vm,
		marshalkit.Packet{
			MediaType: env.GetMediaType(),
			Data:      env.GetData(),
		},
	)
	if err != nil {
		return Parcel{}, err
	}

	p := Parcel{
		Envelope: env,
		Message:  m,
	}

	if env.GetCreatedAt() != "" {
		p.CreatedAt, err = time.Parse(time.RFC3339Nano, env.GetCreatedAt())
		if err != nil {
			return Parcel{}, err
		}
	}

	return p, nil
}

// MustFromEnvelope constructs a parcel from an envelope, or panics if it is
// unable to do so.
func MustFromEnvelope(
	vm marshalkit.ValueMarshaler,
	env *envelopespec.Envelope,
) Parcel {
	p, err := FromEnvelope(vm, env)
	if err != nil {
		panic(err)
	}

	return p
}
