package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avasile/sharescan/internal/domain"
	"github.com/avasile/sharescan/internal/jobs"
)

// ScanHandler serves asynchronous full-scan jobs and the archived scan
// history.
type ScanHandler struct {
	manager *jobs.Manager
	archive domain.ScanArchive
	logger  *slog.Logger
}

// NewScanHandler creates a ScanHandler. archive may be nil, which disables
// the history endpoint.
func NewScanHandler(manager *jobs.Manager, archive domain.ScanArchive, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{
		manager: manager,
		archive: archive,
		logger:  logHandler(logger, "scans"),
	}
}

// submitRequest is the body of POST /api/scans.
type submitRequest struct {
	Wallet          string            `json:"wallet"`
	MaxPages        int               `json:"maxPages"`
	MaxActivity     int               `json:"maxActivity"`
	DecodeReceipts  *bool             `json:"decodeReceipts"`
	IncludePrices   *bool             `json:"includePrices"`
	IncludeMetadata *bool             `json:"includeMetadata"`
	Cursors         map[string]string `json:"cursors"`
}

// jobResponse is the envelope returned for job submission and polling.
type jobResponse struct {
	Job    domain.ScanJob     `json:"job"`
	Result *domain.ScanResult `json:"result,omitempty"`
}

// SubmitScan starts a full scan job, or attaches to an identical one already
// in flight. Returns 202 with the job record; 200 when coalesced onto an
// existing job.
// POST /api/scans
func (h *ScanHandler) SubmitScan(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Wallet) {
		writeError(w, http.StatusBadRequest, "missing or invalid wallet")
		return
	}

	params := domain.ScanParams{
		Wallet:          req.Wallet,
		Mode:            domain.ScanModeFull,
		MaxPages:        req.MaxPages,
		MaxActivity:     req.MaxActivity,
		DecodeReceipts:  true,
		IncludePrices:   true,
		IncludeMetadata: true,
		Cursors:         req.Cursors,
	}
	if req.DecodeReceipts != nil {
		params.DecodeReceipts = *req.DecodeReceipts
	}
	if req.IncludePrices != nil {
		params.IncludePrices = *req.IncludePrices
	}
	if req.IncludeMetadata != nil {
		params.IncludeMetadata = *req.IncludeMetadata
	}

	job, created, err := h.manager.Submit(r.Context(), params)
	if err != nil {
		h.logger.Error("job submit failed",
			slog.String("wallet", req.Wallet),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to submit scan")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	writeJSON(w, status, jobResponse{Job: job})
}

// GetScan polls a job. A completed job's response includes the scan result.
// GET /api/scans/{id}
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	job, err := h.manager.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	resp := jobResponse{Job: job}
	if job.Status == domain.JobCompleted {
		if result, err := h.manager.Result(r.Context(), job); err == nil {
			resp.Result = result
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetHistory returns archived scan summaries for a wallet, newest first.
// GET /api/history?wallet=0x...
func (h *ScanHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotImplemented, "scan history not configured")
		return
	}

	wallet, ok := walletParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid wallet parameter")
		return
	}

	summaries, err := h.archive.History(r.Context(), wallet, intParam(r, "limit"))
	if err != nil {
		h.logger.Error("history query failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if summaries == nil {
		summaries = []domain.ScanSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": summaries})
}
