package publisher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"graminbus/internal/bus"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "graminbus.updates.SH-01", UpdateSubject("graminbus", "SH-01"))
	assert.Equal(t, "graminbus.positions.Shahpura_Local.SH-02", PositionSubject("graminbus", "Shahpura Local", "SH-02"))
	assert.Equal(t, "x.positions.Jaipur_Exp_.SH-01", PositionSubject("x", "Jaipur Exp.", "SH-01"))
}

func TestSubjectToken(t *testing.T) {
	cases := map[string]string{
		"":            "_",
		"  ":          "_",
		"a.b":         "a_b",
		"route/5":     "route_5",
		"all>*":       "all__",
		" SH-01 ":     "SH-01",
		"tab\tinside": "tab_inside",
	}
	for in, want := range cases {
		assert.Equal(t, want, subjectToken(in), "input %q", in)
	}
}

func TestDeliverWithoutConnection(t *testing.T) {
	p := &NATSPublisher{subs: make(map[int]func(bool))}
	err := p.Deliver(context.Background(), []bus.PendingUpdate{{ID: "1", BusID: "SH-01"}})
	assert.ErrorIs(t, err, ErrNotConnected)

	online, known := p.Online()
	assert.False(t, online)
	assert.False(t, known)
}

func TestSubscribeNotifies(t *testing.T) {
	p := &NATSPublisher{subs: make(map[int]func(bool))}
	var got []bool
	unsub := p.Subscribe(func(b bool) { got = append(got, b) })

	p.setConnected(false)
	p.setConnected(true)
	unsub()
	p.setConnected(false)

	assert.Equal(t, []bool{false, true}, got)
}
