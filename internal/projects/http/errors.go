package http

import (
	"errors"
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/domain"
	userdomain "github.com/permitchain/permit-backend/internal/users/domain"
)

type failureDTO struct {
	Address common.Address `json:"address"`
	Error   string         `json:"error"`
}

// respondError maps the error taxonomy to a status and a machine-readable code.
func respondError(c *gin.Context, err error) {
	var (
		partial  *domain.PartiallyAppliedError
		orphaned *domain.OrphanedContractError
		unknown  *domain.UnknownPartyError
		tx       *ledger.TransactionError
	)

	switch {
	case errors.As(err, &partial):
		failed := make([]failureDTO, len(partial.Failed))
		for i, f := range partial.Failed {
			failed[i] = failureDTO{Address: f.Address, Error: f.Err.Error()}
		}
		succeeded := partial.Succeeded
		if succeeded == nil {
			succeeded = []common.Address{}
		}
		c.JSON(http.StatusMultiStatus, gin.H{
			"ok":                     false,
			"code":                   "partially_applied",
			"error":                  "ledger change applied but the project index was not fully updated; a repair is scheduled",
			"succeeded":              succeeded,
			"failed":                 failed,
			"smart_contract_address": partial.Project,
		})

	case errors.As(err, &orphaned):
		log.Printf("[http] orphaned contract=%s err=%v", orphaned.ContractAddress.Hex(), orphaned.Err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok":                     false,
			"code":                   "orphaned_contract",
			"error":                  "project contract deployed but not recorded; a repair is scheduled",
			"smart_contract_address": orphaned.ContractAddress,
		})

	case errors.Is(err, domain.ErrRefreshFailed):
		c.JSON(http.StatusAccepted, gin.H{
			"ok":    true,
			"code":  "refresh_failed",
			"error": "change applied; reload to see the current state",
		})

	case errors.Is(err, domain.ErrInvalidProject):
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())

	case errors.Is(err, domain.ErrNotFound), errors.Is(err, userdomain.ErrUserNotFound):
		fail(c, http.StatusNotFound, "not_found", err.Error())

	case errors.As(err, &unknown):
		fail(c, http.StatusUnprocessableEntity, "unknown_party", err.Error())

	case errors.Is(err, ledger.ErrUnauthorized):
		fail(c, http.StatusForbidden, "unauthorized", ledger.Reason(err))

	case errors.As(err, &tx) && tx.Timeout():
		fail(c, http.StatusGatewayTimeout, "transaction_timeout", ledger.Reason(err))

	case errors.Is(err, ledger.ErrTransactionFailure):
		fail(c, http.StatusConflict, "transaction_failed", ledger.Reason(err))

	case errors.Is(err, domain.ErrPhaseClosed):
		fail(c, http.StatusConflict, "phase_closed", err.Error())

	case errors.Is(err, domain.ErrAlreadyExists):
		fail(c, http.StatusConflict, "already_exists", err.Error())

	case errors.Is(err, ledger.ErrCorruptData):
		log.Printf("[http] corrupt ledger data: %v", err)
		fail(c, http.StatusBadGateway, "corrupt_data", ledger.Reason(err))

	case errors.Is(err, ledger.ErrReadFailure):
		log.Printf("[http] ledger read failed: %v", err)
		fail(c, http.StatusBadGateway, "read_failed", ledger.Reason(err))

	default:
		log.Printf("[http] internal error: %v", err)
		fail(c, http.StatusInternalServerError, "internal", "internal error")
	}
}

func fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"ok": false, "code": code, "error": msg})
}

func badRequest(c *gin.Context, msg string) {
	fail(c, http.StatusBadRequest, "invalid_request", msg)
}
