package fixtures

import (
	"strconv"
	"time"

	"github.com/dogmatiq/interopspec/envelopespec"
	"github.com/dogmatiq/marshalkit"
	"github.com/google/uuid"
	"github.com/sagabus/sagabus/parcel"
)

const (
	// DefaultAppKey is the default application key for test envelopes.
	DefaultAppKey = "a96fefa1-2630-467a-b756-db2e428a56fd"

	// DefaultHandlerKey is the default handler key for test envelopes.
	DefaultHandlerKey = "16c7843f-c94f-4fd1-ba80-fd59cab793ff"
)

// NewEnvelope returns a new envelope containing the given message.
//
// If id is empty, a new UUID is generated.
func NewEnvelope(
	id string,
	m interface{},
	times ...time.Time,
) *envelopespec.Envelope {
	return NewParcel(id, m, times...).Envelope
}

// NewParcel returns a new parcel containing the given message.
//
// If id is empty, a new UUID is generated.
//
// times can contain a single element, the created time.
func NewParcel(
	id string,
	m interface{},
	times ...time.Time,
) parcel.Parcel {
	if id == "" {
		id = uuid.NewString()
	}

	var createdAt time.Time

	switch len(times) {
	case 0:
		createdAt = time.Now()
	case 1:
		createdAt = times[0]
	default:
		panic("too many times specified")
	}

	cleanseTime(&createdAt)

	packet := marshalkit.MustMarshalMessage(Marshaler, m)

	_, n, err := packet.ParseMediaType()
	if err != nil {
		panic(err)
	}

	return parcel.Parcel{
		Envelope: &envelopespec.Envelope{
			MessageId:     id,
			CausationId:   "<cause>",
			CorrelationId: "<correlation>",
			SourceApplication: &envelopespec.Identity{
				Name: "<app-name>",
				Key:  DefaultAppKey,
			},
			CreatedAt:    createdAt.Format(time.RFC3339Nano),
			PortableName: n,
			MediaType:    packet.MediaType,
			Data:         packet.Data,
		},
		Message:   m,
		CreatedAt: createdAt,
	}
}

// NewPacker returns a parcel packer that uses a deterministic ID sequence and
// clock.
//
// The IDs are monotonically increasing integers, starting at 0. The clock
// starts at 2000-01-01 00:00:00 UTC and increments by 1 second per parcel.
func NewPacker() *parcel.Packer {
	var (
		id  int64
		now = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	)

	return &parcel.Packer{
		Application: &envelopespec.Identity{
			Name: "<app-name>",
			Key:  DefaultAppKey,
		},
		Marshaler: Marshaler,
		GenerateID: func() string {
			v := id
			id++
			return strconv.FormatInt(v, 10)
		},
		Now: func() time.Time {
			v := now
			now = now.Add(1 * time.Second)
			return v
		},
	}
}

// cleanseTime normalizes t for tests by truncating it to a millisecond and
// stripping monotonic clock data.
func cleanseTime(t *time.Time) {
	*t = t.Truncate(time.Millisecond).UTC()
}
