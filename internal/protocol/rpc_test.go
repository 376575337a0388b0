package protocol

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

type EchoHandler struct{}

func (h *EchoHandler) Echo(in string, out *string) error {
	*out = "echo:" + in
	return nil
}

func TestDialUnixRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "navc.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	defer os.Remove(sockPath)

	l := NewListener(ln, &EchoHandler{})
	go l.Serve()

	client, err := DialUnix(sockPath)
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}
	defer client.Close()

	var reply string
	if err := client.Call("EchoHandler.Echo", "hi", &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply != "echo:hi" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}
