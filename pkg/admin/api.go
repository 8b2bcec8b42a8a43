package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/config"
	"github.com/cuemby/hutch/pkg/errdefs"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

// maxUploadMemory bounds the multipart parse buffer; larger file parts
// spill to temporary files.
const maxUploadMemory = 32 << 20

// CertSource answers certificate inspection requests; nil disables the
// endpoint.
type CertSource interface {
	Infos() []types.CertInfo
}

// Options wire the API to the rest of the process.
type Options struct {
	Token     string
	RateLimit *config.RateLimit

	// MaxReserve is the default version-GC retention when a delete request
	// does not carry one.
	MaxReserve int

	Index  *storage.Index
	Certs  CertSource
	Broker *events.Broker

	// Reload is invoked by POST /reload; nil makes the endpoint report
	// that reloading is unavailable.
	Reload func() error

	Version string
}

// API is the admin HTTP surface.
type API struct {
	opts     Options
	token    string
	limiters *limiters
	logger   zerolog.Logger
}

// New builds the API; call Handler to obtain the route table.
func New(opts Options) *API {
	metrics.SetVersion(opts.Version)
	return &API{
		opts:     opts,
		token:    opts.Token,
		limiters: newLimiters(opts.RateLimit),
		logger:   log.WithComponent("admin"),
	}
}

// Handler returns the admin mux. /healthz and /metrics are reachable
// without a token so probes and scrapers need no credentials.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", metrics.HealthHandler())
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/status", a.authorize(a.handleStatus))
	mux.HandleFunc("/upload/position", a.authorize(a.handleUploadPosition))
	mux.HandleFunc("/update_version", a.authorize(a.handleUpdateVersion))
	mux.HandleFunc("/files/upload_status", a.authorize(a.handleUploadStatus))
	mux.HandleFunc("/file/upload", a.authorize(a.handleFileUpload))
	mux.HandleFunc("/files/metadata", a.authorize(a.handleFileMetadata))
	mux.HandleFunc("/files/delete", a.authorize(a.handleFilesDelete))
	mux.HandleFunc("/files/revoke_version", a.authorize(a.handleRevokeVersion))
	mux.HandleFunc("/reload", a.authorize(a.handleReload))
	mux.HandleFunc("/acme/cert_info", a.authorize(a.handleCertInfo))
	return mux
}

// handleStatus answers GET /status?domain= with the version listing of one
// domain, or of all domains when the parameter is omitted.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		writeJSON(w, a.opts.Index.AllInfo())
		return
	}

	key, err := types.ParseDomainKey(domain)
	if err != nil {
		writeErr(w, err)
		return
	}
	info, err := a.opts.Index.Info(key)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, []types.DomainInfo{info})
}

// handleUploadPosition answers GET /upload/position?domain=&format= with
// the next upload slot. format=Path (default) returns the bare directory
// path; format=Json returns the full allocation.
func (a *API) handleUploadPosition(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	key, err := types.ParseDomainKey(r.URL.Query().Get("domain"))
	if err != nil {
		writeErr(w, err)
		return
	}
	format, err := types.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeErr(w, err)
		return
	}

	pos, err := a.opts.Index.UploadPosition(key)
	if err != nil {
		writeErr(w, err)
		return
	}
	if pos.Status == types.PositionNewDomain {
		a.publish(&events.Event{Type: events.EventDomainCreated, Domain: key.String(), Version: pos.Version})
	}

	if format == types.FormatJSON {
		writeJSON(w, pos)
		return
	}
	writeText(w, pos.Path)
}

type versionRequest struct {
	Domain  string `json:"domain"`
	Version int64  `json:"version"`
}

// handleUpdateVersion activates a version; version 0 or omitted selects
// the latest finished one.
func (a *API) handleUpdateVersion(w http.ResponseWriter, r *http.Request) {
	a.activate(w, r, "activated")
}

// handleRevokeVersion rolls back to an older finished version. It is the
// same activation path; the separate route keeps rollback auditable.
func (a *API) handleRevokeVersion(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req versionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Version == 0 {
		writeErr(w, errdefs.ErrBadRequest.New("version is required to revoke"))
		return
	}
	a.activateParsed(w, req, "reverted to")
}

func (a *API) activate(w http.ResponseWriter, r *http.Request, verb string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req versionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	a.activateParsed(w, req, verb)
}

func (a *API) activateParsed(w http.ResponseWriter, req versionRequest, verb string) {
	key, err := types.ParseDomainKey(req.Domain)
	if err != nil {
		writeErr(w, err)
		return
	}
	version, err := a.opts.Index.Activate(key, req.Version)
	if err != nil {
		writeErr(w, err)
		return
	}
	a.publish(&events.Event{Type: events.EventVersionActivated, Domain: key.String(), Version: version})
	writeText(w, fmt.Sprintf("domain %s %s version %d", key.String(), verb, version))
}

type uploadStatusRequest struct {
	Domain  string              `json:"domain"`
	Version int64               `json:"version"`
	Status  types.VersionStatus `json:"status"`
}

// handleUploadStatus transitions a version between Uploading and Finish.
func (a *API) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req uploadStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	key, err := types.ParseDomainKey(req.Domain)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := a.opts.Index.SetStatus(key, req.Version, req.Status); err != nil {
		writeErr(w, err)
		return
	}
	if req.Status == types.StatusFinish {
		a.publish(&events.Event{Type: events.EventVersionFinished, Domain: key.String(), Version: req.Version})
	}
	writeText(w, fmt.Sprintf("version %d of %s is now %s", req.Version, key.String(), req.Status))
}

// handleFileUpload receives one multipart file and writes it into an
// uploading version. The target path is the "path" query parameter,
// relative to the version directory.
func (a *API) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	q := r.URL.Query()
	key, err := types.ParseDomainKey(q.Get("domain"))
	if err != nil {
		writeErr(w, err)
		return
	}
	version, err := strconv.ParseInt(q.Get("version"), 10, 64)
	if err != nil || version < 1 {
		writeErr(w, errdefs.ErrBadRequest.New("version %q is not a positive integer", q.Get("version")))
		return
	}
	rel := q.Get("path")
	if rel == "" {
		writeErr(w, errdefs.ErrBadRequest.New("path is required"))
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeErr(w, errdefs.ErrBadRequest.New("parse multipart body: %v", err))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeErr(w, errdefs.ErrBadRequest.New("multipart field %q is required: %v", "file", err))
		return
	}
	defer file.Close()

	n, err := a.opts.Index.PutFile(key, version, rel, file)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		writeErr(w, err)
		return
	}
	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	a.logger.Info().Str("domain", key.String()).Int64("version", version).
		Str("path", rel).Int64("bytes", n).Msg("file uploaded")
	writeText(w, fmt.Sprintf("stored %s (%d bytes)", rel, n))
}

// handleFileMetadata answers GET /files/metadata?domain=&version= with the
// md5 listing clients diff against before uploading.
func (a *API) handleFileMetadata(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	key, err := types.ParseDomainKey(q.Get("domain"))
	if err != nil {
		writeErr(w, err)
		return
	}
	version, err := strconv.ParseInt(q.Get("version"), 10, 64)
	if err != nil || version < 1 {
		writeErr(w, errdefs.ErrBadRequest.New("version %q is not a positive integer", q.Get("version")))
		return
	}

	metas, err := a.opts.Index.FileMetadata(key, version)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, metas)
}

type deleteRequest struct {
	Domain     string `json:"domain"`
	MaxReserve int    `json:"max_reserve"`
}

// handleFilesDelete garbage-collects old versions: one domain when named,
// every domain otherwise. The retention falls back to the configured
// default.
func (a *API) handleFilesDelete(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req deleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	reserve := req.MaxReserve
	if reserve == 0 {
		reserve = a.opts.MaxReserve
	}
	if reserve < 1 {
		writeErr(w, errdefs.ErrBadRequest.New("max_reserve must be >= 1, got %d", reserve))
		return
	}

	if req.Domain == "" {
		total := a.opts.Index.DeleteOldAll(reserve)
		writeText(w, fmt.Sprintf("deleted %d old versions", total))
		return
	}

	key, err := types.ParseDomainKey(req.Domain)
	if err != nil {
		writeErr(w, err)
		return
	}
	deleted, err := a.opts.Index.DeleteOld(key, reserve)
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, v := range deleted {
		a.publish(&events.Event{Type: events.EventVersionDeleted, Domain: key.String(), Version: v})
	}
	writeText(w, fmt.Sprintf("deleted %d old versions of %s", len(deleted), key.String()))
}

// handleReload triggers a configuration reload.
func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if a.opts.Reload == nil {
		writeErr(w, errdefs.ErrConflict.New("reload is not available"))
		return
	}
	a.publish(&events.Event{Type: events.EventReloadRequested})
	if err := a.opts.Reload(); err != nil {
		writeErr(w, err)
		return
	}
	writeText(w, "reload complete")
}

// handleCertInfo lists the loaded certificates, optionally filtered to one
// host.
func (a *API) handleCertInfo(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	out := []types.CertInfo{}
	if a.opts.Certs != nil {
		host := r.URL.Query().Get("domain")
		for _, info := range a.opts.Certs.Infos() {
			if host == "" || info.Host == host {
				out = append(out, info)
			}
		}
	}
	writeJSON(w, out)
}

func (a *API) publish(ev *events.Event) {
	if a.opts.Broker != nil {
		a.opts.Broker.Publish(ev)
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return errdefs.ErrBadRequest.New("decode request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, body)
}

func writeErr(w http.ResponseWriter, err error) {
	http.Error(w, errdefs.Reason(err), errdefs.HTTPStatus(err))
}
