package install

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/bjorn-manager/pkg/logger"
	"github.com/carverauto/bjorn-manager/pkg/models"
	"github.com/carverauto/bjorn-manager/pkg/session"
)

type sinkStub struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *sinkStub) Publish(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
}

func (s *sinkStub) ofType(t models.EventType) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Event

	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}

	return out
}

type fakeStream struct {
	feed    []string
	waitErr error
	sent    []string
}

func (f *fakeStream) Lines() <-chan string {
	ch := make(chan string, len(f.feed))

	for _, line := range f.feed {
		ch <- line
	}

	close(ch)

	return ch
}

func (f *fakeStream) Send(line string) error {
	f.sent = append(f.sent, line)
	return nil
}

func (*fakeStream) Close() {}

func (f *fakeStream) Wait() error { return f.waitErr }

type upload struct {
	path string
	mode os.FileMode
	size int
}

type fakeRemote struct {
	identity  string
	stream    *fakeStream
	uploads   []upload
	uploadErr error
	command   string
}

func (f *fakeRemote) Identity() string { return f.identity }

func (f *fakeRemote) UploadText(remotePath string, content []byte, mode os.FileMode) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}

	f.uploads = append(f.uploads, upload{path: remotePath, mode: mode, size: len(content)})

	return nil
}

func (f *fakeRemote) UploadFile(localPath, remotePath string, mode os.FileMode) error {
	return f.UploadText(remotePath, []byte(localPath), mode)
}

func (f *fakeRemote) SudoExecute(_ context.Context, command string) (Stream, error) {
	f.command = command
	return f.stream, nil
}

func newTestOrchestrator() (*Orchestrator, *sinkStub) {
	sink := &sinkStub{}
	return New(Config{}, sink, logger.NewTestLogger()), sink
}

func testAssets() Assets {
	return Assets{
		Script: []byte("#!/usr/bin/env bash\n"),
		Libs: map[string][]byte{
			"steps.sh": []byte("announce_step() { :; }\n"),
		},
	}
}

func TestRunHappyPath(t *testing.T) {
	o, sink := newTestOrchestrator()
	remote := &fakeRemote{
		identity: "bjorn",
		stream: &fakeStream{feed: []string{
			"Step 1 of 2: Preparing",
			"random unrelated output",
			"Step 2 of 2: Installing",
		}},
	}

	job, err := o.Run(context.Background(), remote, testAssets(), models.InstallOptions{Mode: models.ModeOnline})
	require.NoError(t, err)

	assert.Equal(t, models.InstallSucceeded, job.State)
	assert.Equal(t, 2, job.CurrentStep)
	assert.Equal(t, 2, job.TotalSteps)
	require.Len(t, job.Steps, 2)
	assert.Equal(t, "Preparing", job.Steps[0].Label)
	assert.NotEmpty(t, job.ID)
	assert.Empty(t, job.FailureContext)

	progress := sink.ofType(models.EventInstallProgress)
	require.Len(t, progress, 2)
	assert.Equal(t, 1, progress[0].StepIndex)
	assert.Equal(t, 2, progress[1].StepIndex)

	logs := sink.ofType(models.EventInstallLog)
	require.Len(t, logs, 1)
	assert.Equal(t, "random unrelated output", logs[0].Line)

	finished := sink.ofType(models.EventInstallFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, models.InstallSucceeded, finished[0].Outcome)
}

func TestRunUploadsAssetsBeforeInvoking(t *testing.T) {
	o, _ := newTestOrchestrator()
	remote := &fakeRemote{identity: "bjorn", stream: &fakeStream{}}

	_, err := o.Run(context.Background(), remote, testAssets(), models.InstallOptions{})
	require.NoError(t, err)

	require.Len(t, remote.uploads, 2)
	assert.Equal(t, "bjorn-install/install_bjorn.sh", remote.uploads[0].path)
	assert.Equal(t, os.FileMode(0o755), remote.uploads[0].mode)
	assert.Equal(t, "bjorn-install/lib/steps.sh", remote.uploads[1].path)
}

func TestRunCommandContract(t *testing.T) {
	o, _ := newTestOrchestrator()
	remote := &fakeRemote{identity: "bjorn", stream: &fakeStream{}}

	_, err := o.Run(context.Background(), remote, testAssets(), models.InstallOptions{
		Mode:          models.ModeDebug,
		DisplayDriver: "epd2in7",
		ManualMode:    true,
		WebUIAuth:     true,
		WebUIPassword: "s3cret",
		BluetoothMAC:  "AA:BB:CC:DD:EE:FF",
		GitBranch:     "develop",
	})
	require.NoError(t, err)

	cmd := remote.command
	assert.Contains(t, cmd, "NON_INTERACTIVE=1")
	assert.Contains(t, cmd, "EPD_VERSION='epd2in7'")
	assert.Contains(t, cmd, "MANUAL_MODE=1")
	assert.Contains(t, cmd, "enable_auth=true")
	assert.Contains(t, cmd, "WEBUI_PASSWORD='s3cret'")
	assert.Contains(t, cmd, "WEBUI_PASSWORD_CONFIRM='s3cret'")
	assert.Contains(t, cmd, "BLUETOOTH_MAC_ADDRESS='AA:BB:CC:DD:EE:FF'")
	assert.Contains(t, cmd, "GIT_BRANCH='develop'")
	assert.Contains(t, cmd, "bash bjorn-install/install_bjorn.sh -debug")
}

func TestRunDefaultsModeAndDriver(t *testing.T) {
	o, _ := newTestOrchestrator()
	remote := &fakeRemote{identity: "bjorn", stream: &fakeStream{}}

	_, err := o.Run(context.Background(), remote, testAssets(), models.InstallOptions{})
	require.NoError(t, err)

	assert.Contains(t, remote.command, "EPD_VERSION='epd2in13_V4'")
	assert.Contains(t, remote.command, "-online")
	assert.NotContains(t, remote.command, "MANUAL_MODE")
	assert.NotContains(t, remote.command, "WEBUI_PASSWORD")
}

func TestRunFailureCapturesTrailingContext(t *testing.T) {
	var feed []string
	for i := 0; i < 30; i++ {
		feed = append(feed, "output line")
	}

	feed = append(feed, "fatal: something broke")

	o, sink := newTestOrchestrator()
	remote := &fakeRemote{
		identity: "bjorn",
		stream: &fakeStream{
			feed:    feed,
			waitErr: &session.RemoteExecutionError{Command: "bash install_bjorn.sh", ExitCode: 1},
		},
	}

	job, err := o.Run(context.Background(), remote, testAssets(), models.InstallOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.InstallFailed, job.State)
	require.Len(t, job.FailureContext, 20)
	assert.Equal(t, "fatal: something broke", job.FailureContext[19])

	finished := sink.ofType(models.EventInstallFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, models.InstallFailed, finished[0].Outcome)
	assert.Contains(t, finished[0].Message, "exited 1")
}

func TestRunCancelledBecomesAborted(t *testing.T) {
	o, sink := newTestOrchestrator()
	remote := &fakeRemote{
		identity: "bjorn",
		stream:   &fakeStream{waitErr: session.ErrCancelled},
	}

	job, err := o.Run(context.Background(), remote, testAssets(), models.InstallOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.InstallAborted, job.State)
	assert.Empty(t, job.FailureContext)

	finished := sink.ofType(models.EventInstallFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, models.InstallAborted, finished[0].Outcome)
}

func TestRunRejectsConcurrentInstall(t *testing.T) {
	o, _ := newTestOrchestrator()
	o.jobs["bjorn"] = &models.InstallJob{Identity: "bjorn", State: models.InstallRunning}

	remote := &fakeRemote{identity: "bjorn", stream: &fakeStream{}}

	_, err := o.Run(context.Background(), remote, testAssets(), models.InstallOptions{})
	require.ErrorIs(t, err, ErrInstallActive)
}

func TestRunAllowsNewInstallAfterTerminalJob(t *testing.T) {
	o, _ := newTestOrchestrator()
	o.jobs["bjorn"] = &models.InstallJob{Identity: "bjorn", State: models.InstallFailed}

	remote := &fakeRemote{identity: "bjorn", stream: &fakeStream{}}

	job, err := o.Run(context.Background(), remote, testAssets(), models.InstallOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.InstallSucceeded, job.State)
}

func TestRunUploadFailure(t *testing.T) {
	o, sink := newTestOrchestrator()
	remote := &fakeRemote{
		identity:  "bjorn",
		uploadErr: &session.TransferError{Path: "bjorn-install/install_bjorn.sh", Err: os.ErrPermission},
	}

	job, err := o.Run(context.Background(), remote, testAssets(), models.InstallOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.InstallFailed, job.State)
	assert.Empty(t, remote.command, "entry point must not run when upload failed")

	finished := sink.ofType(models.EventInstallFinished)
	require.Len(t, finished, 1)
	assert.Contains(t, finished[0].Message, "install_bjorn.sh")
}

func TestForgetDropsJob(t *testing.T) {
	o, _ := newTestOrchestrator()
	remote := &fakeRemote{identity: "bjorn", stream: &fakeStream{}}

	_, err := o.Run(context.Background(), remote, testAssets(), models.InstallOptions{})
	require.NoError(t, err)

	_, ok := o.Job("bjorn")
	require.True(t, ok)

	o.Forget("bjorn")

	_, ok = o.Job("bjorn")
	assert.False(t, ok)
}

func TestChangeDisplayDriverValidation(t *testing.T) {
	o, _ := newTestOrchestrator()
	remote := &fakeRemote{identity: "bjorn", stream: &fakeStream{}}

	require.Error(t, o.ChangeDisplayDriver(context.Background(), remote, "nokia3310"))

	require.NoError(t, o.ChangeDisplayDriver(context.Background(), remote, "epd2in13_V2"))
	assert.Contains(t, remote.command, `"epd_type": "epd2in13_V2"`)
	assert.Contains(t, remote.command, "systemctl restart bjorn.service")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'plain'", shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
