package mpipc_test

import (
	"testing"

	"github.com/solidgo/mpipc/cmn"
	"github.com/solidgo/mpipc/mpipc"
)

type recordingHandler struct{ called *bool }

func (h recordingHandler) OnMessage(ctx mpipc.ReplyCtx, payload []byte) error {
	*h.called = true
	return nil
}

func clientConfig() *cmn.Config {
	cfg := cmn.DefaultConfig()
	cfg.PoolMaxActiveConnectionCount = 0 // no resolver dial attempted in these tests
	return cfg.WithResolver(func(string) ([]string, error) { return nil, nil })
}

func TestNewRejectsNeitherServerNorClient(t *testing.T) {
	cfg := cmn.DefaultConfig()
	if _, err := mpipc.New(cfg); err == nil {
		t.Fatal("expected Validate to reject a config that is neither client nor server")
	}
}

func TestSendEnqueuesOnNewPool(t *testing.T) {
	s, err := mpipc.New(clientConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	_, _, err = s.Send("peer-a", 1, []byte("hi"), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
}

func TestSendWithRelaySuffixRequiresRelayEnabled(t *testing.T) {
	s, err := mpipc.New(clientConfig())
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = s.Send("peer-a/other", 1, nil, 0, nil)
	if err == nil {
		t.Fatal("expected relay-disabled error")
	}
}

func TestRegisterTypeAcceptsHandler(t *testing.T) {
	s, err := mpipc.New(clientConfig())
	if err != nil {
		t.Fatal(err)
	}
	called := false
	s.RegisterType(7, recordingHandler{called: &called})
}

func TestStartStatsReportRejectsBadSchedule(t *testing.T) {
	s, err := mpipc.New(clientConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StartStatsReport("not a cron schedule"); err == nil {
		t.Fatal("expected an error for a malformed cron schedule")
	}
}

func TestStartStatsReportAcceptsValidScheduleAndStops(t *testing.T) {
	s, err := mpipc.New(clientConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StartStatsReport("@every 1h"); err != nil {
		t.Fatal(err)
	}
	s.StopStatsReport()
}

func TestReconfigureRejectsInvalidConfig(t *testing.T) {
	s, err := mpipc.New(clientConfig())
	if err != nil {
		t.Fatal(err)
	}
	bad := cmn.DefaultConfig()
	bad.PoolsMutexCount = 0
	if err := s.Reconfigure(bad); err == nil {
		t.Fatal("expected Reconfigure to reject an invalid config")
	}
}
