package parcel

import (
	"time"

	"github.com/dogmatiq/interopspec/envelopespec"
	"github.com/dogmatiq/marshalkit"
	"github.com/google/uuid"
)

// Packer puts messages into parcels.
type Packer struct {
	// Application is the identity of this application.
	Application *envelopespec.Identity

	// Marshaler is used to marshal messages into envelopes.
	Marshaler marshalkit.ValueMarshaler

	// GenerateID is a function used to generate new message IDs. If it is nil,
	// a UUID is generated.
	GenerateID func() string

	// Now is a function used to get the current time. If it is nil, time.Now()
	// is used.
	Now func() time.Time
}

// PackCommand returns a parcel containing the given command message.
func (p *Packer) PackCommand(m interface{}) Parcel {
	return p.new(m)
}

// PackEvent returns a parcel containing the given event message.
func (p *Packer) PackEvent(m interface{}) Parcel {
	return p.new(m)
}

// PackChildCommand returns a parcel containing the given command message,
// configured as a child of c, the cause.
func (p *Packer) PackChildCommand(
	c Parcel,
	m interface{},
	handler *envelopespec.Identity,
	instanceID string,
) Parcel {
	parcel := p.new(m)

	parcel.Envelope.CausationId = c.Envelope.GetMessageId()
	parcel.Envelope.CorrelationId = c.Envelope.GetCorrelationId()
	parcel.Envelope.SourceHandler = handler
	parcel.Envelope.SourceInstanceId = instanceID

	return parcel
}

// new returns a parcel containing the given message.
func (p *Packer) new(m interface{}) Parcel {
	id := p.generateID()
	now := p.now()

	packet := marshalkit.MustMarshalMessage(p.Marshaler, m)

	_, n, err := packet.ParseMediaType()
	if err != nil {
		// CODE COVERAGE: This branch would require the marshaler to violate
		// its own requirements on the format of the media-type.
		panic(err)
	}

	return Parcel{
		Envelope: &envelopespec.Envelope{
			MessageId:         id,
			CorrelationId:     id,
			CausationId:       id,
			SourceApplication: p.Application,
			CreatedAt:         now.Format(time.RFC3339Nano),
			PortableName:      n,
			MediaType:         packet.MediaType,
			Data:              packet.Data,
		},
		Message:   m,
		CreatedAt: now,
	}
}

// now returns the current time.
func (p *Packer) now() time.Time {
	now := p.Now
	if now == nil {
		now = time.Now
	}

	return now()
}

// generateID generates a new message ID.
func (p *Packer) generateID() string {
	if p.GenerateID != nil {
		return p.GenerateID()
	}

	return uuid.NewString()
}
