package worker

import (
	"bytes"
	"io"
	"testing"

	"github.com/marmos91/usbsas/pkg/proto"
)

// serve runs Serve over in-memory buffers: reqs pre-encoded on the input,
// responses collected from the output.
func serve(t *testing.T, handlers map[proto.Type]Handler, opts Options, reqs ...proto.Envelope) []proto.Envelope {
	t.Helper()
	var in, out bytes.Buffer
	for _, r := range reqs {
		if err := proto.WriteEnvelope(&in, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := Serve("test", &in, &out, handlers, opts); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	var resps []proto.Envelope
	for {
		env, err := proto.ReadEnvelope(&out)
		if err == io.EOF {
			return resps
		}
		if err != nil {
			t.Fatal(err)
		}
		resps = append(resps, env)
	}
}

func env(t *testing.T, typ proto.Type, body any) proto.Envelope {
	t.Helper()
	e, err := proto.NewEnvelope(typ, body)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestServeDispatchAndEnd(t *testing.T) {
	handlers := map[proto.Type]Handler{
		proto.TypeID: func(req proto.Envelope, out io.Writer) error {
			return Respond(out, proto.TypeIDResp, proto.IDResp{ID: "op1"})
		},
	}
	resps := serve(t, handlers, Options{},
		env(t, proto.TypeID, proto.ID{}),
		env(t, proto.TypeEnd, proto.End{}),
	)
	if len(resps) != 2 {
		t.Fatalf("%d responses", len(resps))
	}
	if resps[0].Type != proto.TypeIDResp || resps[1].Type != proto.TypeEndResp {
		t.Fatalf("responses = %v, %v", resps[0].Type, resps[1].Type)
	}
}

func TestServeUnknownTypeAnswersError(t *testing.T) {
	resps := serve(t, map[proto.Type]Handler{}, Options{},
		env(t, proto.TypeWipe, proto.Wipe{}),
		env(t, proto.TypeEnd, proto.End{}),
	)
	if resps[0].Type != proto.TypeError {
		t.Fatalf("response = %v", resps[0].Type)
	}
}

func TestServeHandlerErrorBecomesErrorEnvelope(t *testing.T) {
	handlers := map[proto.Type]Handler{
		proto.TypeID: func(req proto.Envelope, out io.Writer) error {
			return io.ErrUnexpectedEOF
		},
	}
	resps := serve(t, handlers, Options{},
		env(t, proto.TypeID, proto.ID{}),
		env(t, proto.TypeEnd, proto.End{}),
	)
	if resps[0].Type != proto.TypeError {
		t.Fatalf("response = %v", resps[0].Type)
	}
}

func TestServeWaitOnStartupConsumesUnlockFirst(t *testing.T) {
	var unlocked []byte
	handlers := map[proto.Type]Handler{}
	opts := Options{
		WaitOnStartup: true,
		OnUnlock: func(payload []byte) error {
			unlocked = append([]byte(nil), payload...)
			return nil
		},
	}
	serve(t, handlers, opts,
		env(t, proto.TypeUnlock, proto.Unlock{Payload: []byte{1}}),
		env(t, proto.TypeEnd, proto.End{}),
	)
	if !bytes.Equal(unlocked, []byte{1}) {
		t.Fatalf("unlock payload = %v", unlocked)
	}
}

func TestServeWaitOnStartupRejectsNonUnlockFirstMessage(t *testing.T) {
	var in, out bytes.Buffer
	if err := proto.WriteEnvelope(&in, env(t, proto.TypeID, proto.ID{})); err != nil {
		t.Fatal(err)
	}
	if err := Serve("test", &in, &out, map[proto.Type]Handler{}, Options{WaitOnStartup: true}); err == nil {
		t.Fatal("non-unlock first message accepted by a locked worker")
	}
}
