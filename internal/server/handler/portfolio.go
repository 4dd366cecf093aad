package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/avasile/sharescan/internal/domain"
	"github.com/avasile/sharescan/internal/jobs"
)

// PortfolioHandler serves synchronous default-mode portfolio scans.
type PortfolioHandler struct {
	scanner jobs.Scanner
	logger  *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(scanner jobs.Scanner, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		scanner: scanner,
		logger:  logHandler(logger, "portfolio"),
	}
}

// GetPortfolio runs a bounded scan for the wallet and returns the payload.
// The scan degrades rather than fails: an incomplete result carries
// completeness flags, only mandatory-path failures produce a 502.
// GET /api/portfolio?wallet=0x...
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid wallet parameter")
		return
	}

	params := domain.ScanParams{
		Wallet:          wallet,
		Mode:            domain.ScanModeDefault,
		MaxPages:        intParam(r, "maxPages"),
		MaxActivity:     intParam(r, "maxActivity"),
		DecodeReceipts:  boolParam(r, "decode", true),
		IncludePrices:   boolParam(r, "prices", true),
		IncludeMetadata: boolParam(r, "metadata", true),
	}
	if ms := intParam(r, "budgetMs"); ms > 0 {
		params.Budget = time.Duration(ms) * time.Millisecond
	}

	result, err := h.scanner.Scan(r.Context(), params)
	if err != nil {
		h.logger.Error("scan failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "scan failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
