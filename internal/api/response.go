package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/moneyage/internal/engine"
	"github.com/roach88/moneyage/internal/journal"
	"github.com/roach88/moneyage/internal/store"
)

// Business codes carried in every response body.
const (
	CodeOK           = 0
	CodeInvalidParam = 40001
	CodeNotFound     = 40401
	CodeConflict     = 40901
	CodeRejected     = 42201
	CodeServerErr    = 50001
)

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code": CodeOK,
		"data": data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
	})
}

func badRequest(c *gin.Context, msg string) {
	fail(c, http.StatusBadRequest, CodeInvalidParam, msg)
}

// failWith maps a domain error onto a status and business code.
func failWith(c *gin.Context, err error) {
	code, _ := engine.CodeOf(err)
	switch {
	case code == engine.ErrCodeInvalidAmount, code == engine.ErrCodeInvalidTransactionType,
		errors.Is(err, journal.ErrEmptyPatch):
		badRequest(c, err.Error())
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateID), code == engine.ErrCodeDuplicateTransaction:
		fail(c, http.StatusConflict, CodeConflict, err.Error())
	case engine.IsPrecondition(err):
		fail(c, http.StatusUnprocessableEntity, CodeRejected, err.Error())
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, CodeServerErr, "internal error")
	}
}
