package service

import (
	"parkwatch/internal/auth"
	"parkwatch/internal/entities"
	"parkwatch/internal/tables"
)

// CredentialReporter exposes the credential cache state.
type CredentialReporter interface {
	Status() auth.CredentialStatus
}

// RemoteStats exposes remote call counters and the segment-name cache size.
type RemoteStats interface {
	Calls() int64
	CachedNames() int
}

// Status is the operator view of the running service.
type Status struct {
	Version     string                        `json:"version"`
	Tables      tables.Stats                  `json:"tables"`
	Credential  auth.CredentialStatus         `json:"credential"`
	RemoteCalls int64                         `json:"remote_calls"`
	CachedNames int                           `json:"cached_segment_names"`
	Monitors    map[entities.MonitorState]int `json:"monitors"`
	Channels    []string                      `json:"notification_channels"`
}

type AdminService struct {
	monitors   *MonitorService
	credential CredentialReporter
	remote     RemoteStats
	tables     *tables.Tables
	router     *NotifierRouter
	version    string
}

func NewAdminService(monitors *MonitorService, credential CredentialReporter, remote RemoteStats, tb *tables.Tables, router *NotifierRouter, version string) *AdminService {
	return &AdminService{
		monitors:   monitors,
		credential: credential,
		remote:     remote,
		tables:     tb,
		router:     router,
		version:    version,
	}
}

func (s *AdminService) ListMonitors(state entities.MonitorState) []entities.MonitorView {
	return s.monitors.List(state)
}

func (s *AdminService) CancelMonitor(id string) (entities.MonitorView, error) {
	return s.monitors.Cancel(id)
}

func (s *AdminService) Status() Status {
	return Status{
		Version:     s.version,
		Tables:      s.tables.Stats(),
		Credential:  s.credential.Status(),
		RemoteCalls: s.remote.Calls(),
		CachedNames: s.remote.CachedNames(),
		Monitors:    s.monitors.repo.Counts(),
		Channels:    s.router.Channels(),
	}
}
