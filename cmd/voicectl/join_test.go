package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"highwayhub/voice/internal/call"
)

type fakeControl struct {
	calls []string
	err   error
	snap  call.Snapshot
}

func (f *fakeControl) ToggleMute(_ context.Context, muted bool) error {
	if muted {
		f.calls = append(f.calls, "mute")
	} else {
		f.calls = append(f.calls, "unmute")
	}
	return f.err
}

func (f *fakeControl) SetInputDevice(_ context.Context, id string) error {
	f.calls = append(f.calls, "input "+id)
	return f.err
}

func (f *fakeControl) SetOutputDevice(_ context.Context, id string) error {
	f.calls = append(f.calls, "output "+id)
	return f.err
}

func (f *fakeControl) Leave(context.Context) error {
	f.calls = append(f.calls, "leave")
	return f.err
}

func (f *fakeControl) Snapshot() call.Snapshot { return f.snap }

func TestRunCommands(t *testing.T) {
	ctl := &fakeControl{}
	in := strings.NewReader("mute\n\nunmute\ninput hw:1,0\noutput\noutput hw:0,0\nleave\nquit\nmute\n")
	var out bytes.Buffer

	runCommands(context.Background(), in, &out, ctl)

	assert.Equal(t, []string{"mute", "unmute", "input hw:1,0", "output hw:0,0", "leave"}, ctl.calls)
	assert.Contains(t, out.String(), "usage: output <device-id>")
}

func TestCommandErrorsArePrinted(t *testing.T) {
	ctl := &fakeControl{err: errors.New("mute needs a joined call")}
	var out bytes.Buffer

	assert.True(t, execute(context.Background(), "mute", &out, ctl))
	assert.True(t, execute(context.Background(), "dance", &out, ctl))
	assert.Contains(t, out.String(), "error: mute needs a joined call")
	assert.Contains(t, out.String(), `unknown command "dance"`)
}

func TestWhoAndDevices(t *testing.T) {
	ctl := &fakeControl{snap: call.Snapshot{
		State: call.StateJoined,
		Participants: map[string]call.Participant{
			"s1": {SessionID: "s1", DisplayName: "Dusty", AudioEnabled: true, Local: true},
			"s2": {SessionID: "s2", DisplayName: "Tex"},
		},
		Levels:       map[string]float64{"s1": 0.04},
		Threshold:    0.08,
		InputDevices: []call.Device{{ID: "hw:1,0", Kind: call.DeviceInput, Label: "Trucker Headset"}},
		Input:        call.Selection{Staged: "hw:1,0", Confirmed: "hw:1,0"},
		Output:       call.Selection{Staged: "default", Confirmed: "default"},
	}}
	var out bytes.Buffer

	execute(context.Background(), "who", &out, ctl)
	who := out.String()
	assert.Contains(t, who, "Dusty (you)")
	assert.Contains(t, who, "#####.....")
	assert.Contains(t, who, "muted")
	assert.Contains(t, strings.ToLower(who), "joined, 2 in call")

	out.Reset()
	execute(context.Background(), "devices", &out, ctl)
	assert.Contains(t, out.String(), "Trucker Headset")
	assert.Contains(t, out.String(), "*")
}

func TestRunCommandsStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runCommands(ctx, nil, &bytes.Buffer{}, &fakeControl{})
}

func TestLevelBar(t *testing.T) {
	assert.Equal(t, "..........", levelBar(0))
	assert.Equal(t, "##########", levelBar(1))
	assert.Equal(t, "###.......", levelBar(0.3))
}

type stubRooms struct {
	url string
}

func (s stubRooms) RequestRoom(context.Context) (string, error) { return "room-1", nil }

func (s stubRooms) RequestCredential(context.Context, call.CredentialRequest) (call.Credential, error) {
	return call.Credential{RoomURL: s.url, Token: "t"}, nil
}

func TestHubRoomsRefusesDailyRooms(t *testing.T) {
	ctx := context.Background()

	cred, err := hubRooms{stubRooms{url: "wss://hub.example/ws/rooms/room-1"}}.RequestCredential(ctx, call.CredentialRequest{RoomID: "room-1"})
	assert.NoError(t, err)
	assert.Equal(t, "wss://hub.example/ws/rooms/room-1", cred.RoomURL)

	_, err = hubRooms{stubRooms{url: "https://fleet.daily.co/room-1"}}.RequestCredential(ctx, call.CredentialRequest{RoomID: "room-1"})
	assert.ErrorContains(t, err, "not served by the hub")
}
