package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driving"
)

// --- Mock services for command testing ---

type mockTransferService struct {
	report *driving.TransferReport
	err    error
	events []driving.ProgressEvent
	got    driving.TransferRequest
	calls  int
}

func (m *mockTransferService) Run(_ context.Context, req driving.TransferRequest, progress driving.ProgressFunc) (*driving.TransferReport, error) {
	m.calls++
	m.got = req
	for _, ev := range m.events {
		progress(ev)
	}
	return m.report, m.err
}

type mockBatchService struct {
	batches []domain.BatchRecord
	detail  *driving.BatchDetail
	err     error
}

func (m *mockBatchService) List(_ context.Context) ([]domain.BatchRecord, error) {
	return m.batches, m.err
}

func (m *mockBatchService) Get(_ context.Context, id string) (*driving.BatchDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.detail == nil || m.detail.Batch.ID != id {
		return nil, domain.ErrNotFound
	}
	return m.detail, nil
}

type mockRosterService struct {
	export *driving.RosterExport
	err    error
}

func (m *mockRosterService) Export(_ context.Context, _ string) (*driving.RosterExport, error) {
	return m.export, m.err
}

type mockSettingsService struct {
	settings domain.AppSettings
	setKey   string
	setValue string
	setErr   error
}

func newMockSettingsService() *mockSettingsService {
	return &mockSettingsService{settings: domain.DefaultAppSettings()}
}

func (m *mockSettingsService) Get() (*domain.AppSettings, error) {
	s := m.settings
	return &s, nil
}

func (m *mockSettingsService) Save(s *domain.AppSettings) error {
	m.settings = *s
	return nil
}

func (m *mockSettingsService) Set(key, value string) error {
	m.setKey, m.setValue = key, value
	return m.setErr
}

func (m *mockSettingsService) Keys() []string {
	return []string{"transfer.concurrency", "anonymise.salt"}
}

func (m *mockSettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// setupServices installs services for one test and restores the originals afterwards.
func setupServices(t *testing.T, s Services) {
	t.Helper()
	old := Services{Transfer: transferService, Batch: batchService, Roster: rosterService, Settings: settingsService}
	SetServices(s)
	t.Cleanup(func() { SetServices(old) })
}

// execute runs the root command with args and returns its combined output.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	})

	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags restores every flag of cmd and its subcommands to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
