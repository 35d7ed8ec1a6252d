package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/roach88/moneyage/internal/journal"
	"github.com/roach88/moneyage/internal/ledger"
)

const (
	defaultListLimit = 50
	maxPredictDays   = 3650
)

// ---------- requests ----------

type simulateReq struct {
	Amount decimal.Decimal `json:"amount"`
}

type predictReq struct {
	Days         int                     `json:"days" binding:"required,min=1"`
	DailyExpense decimal.Decimal         `json:"daily_expense"`
	Incomes      []ledger.ExpectedIncome `json:"incomes"`
}

type createTransactionReq struct {
	ID     string          `json:"id" binding:"max=128"`
	Type   string          `json:"type" binding:"required,oneof=income expense"`
	Amount decimal.Decimal `json:"amount"`
	Date   string          `json:"date"`
	Note   string          `json:"note" binding:"max=255"`
}

type updateTransactionReq struct {
	Type   *string          `json:"type" binding:"omitempty,oneof=income expense"`
	Amount *decimal.Decimal `json:"amount"`
	Date   *string          `json:"date"`
	Note   *string          `json:"note" binding:"omitempty,max=255"`
}

type statusResp struct {
	Mode             string    `json:"mode"`
	Reason           string    `json:"reason,omitempty"`
	LastCalculatedAt time.Time `json:"last_calculated_at"`
	HasDirtyData     bool      `json:"has_dirty_data"`
}

// ---------- reads ----------

func (s *Server) status(c *gin.Context) {
	mode, reason := s.manager.Mode()
	success(c, statusResp{
		Mode:             mode.String(),
		Reason:           reason,
		LastCalculatedAt: s.manager.LastCalculatedAt(),
		HasDirtyData:     s.manager.HasDirtyData(),
	})
}

func (s *Server) moneyAge(c *gin.Context) {
	success(c, s.manager.CurrentMoneyAge())
}

func (s *Server) statistics(c *gin.Context) {
	success(c, s.manager.Statistics())
}

func (s *Server) history(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	changes, err := s.manager.ChangeHistory(c.Request.Context(), limit)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, changes)
}

func (s *Server) dirty(c *gin.Context) {
	success(c, gin.H{
		"markers":        s.manager.DirtyMarkers(),
		"has_dirty_data": s.manager.HasDirtyData(),
	})
}

type poolResp struct {
	Pool         ledger.ResourcePool          `json:"pool"`
	Consumptions []ledger.ResourceConsumption `json:"consumptions"`
}

// listPools serves ?fully_consumed=true|false and ?limit=, oldest pool first.
func (s *Server) listPools(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	var consumed *bool
	if raw := c.Query("fully_consumed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "fully_consumed must be true or false")
			return
		}
		consumed = &v
	}

	pools := make([]ledger.ResourcePool, 0)
	for _, p := range s.manager.Pools() {
		if consumed != nil && p.IsFullyConsumed() != *consumed {
			continue
		}
		pools = append(pools, p)
		if len(pools) == limit {
			break
		}
	}
	success(c, pools)
}

// getPool accepts a pool id or the id of the income that funded it.
func (s *Server) getPool(c *gin.Context) {
	pool, ok := s.manager.PoolOf(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, CodeNotFound, "pool not found")
		return
	}
	success(c, poolResp{Pool: pool, Consumptions: s.manager.ConsumptionsOfPool(pool.ID)})
}

// listConsumptions filters by ?expense= and ?pool=; both narrow the result.
func (s *Server) listConsumptions(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	expense, poolID := c.Query("expense"), c.Query("pool")

	var cons []ledger.ResourceConsumption
	switch {
	case poolID != "":
		pool, found := s.manager.PoolOf(poolID)
		if !found {
			fail(c, http.StatusNotFound, CodeNotFound, "pool not found")
			return
		}
		cons = s.manager.ConsumptionsOfPool(pool.ID)
	case expense != "":
		cons = s.manager.ConsumptionsFor(expense)
	default:
		cons = s.manager.Consumptions()
	}

	out := make([]ledger.ResourceConsumption, 0, min(len(cons), limit))
	for _, cs := range cons {
		if expense != "" && cs.ExpenseTransactionID != expense {
			continue
		}
		out = append(out, cs)
		if len(out) == limit {
			break
		}
	}
	success(c, out)
}

func (s *Server) listSnapshots(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	snaps, err := s.snapshots.ListSnapshots(c.Request.Context(), limit)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, snaps)
}

// ---------- actions ----------

func (s *Server) takeSnapshot(c *gin.Context) {
	snap, err := s.manager.Snapshot(c.Request.Context())
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, snap)
}

func (s *Server) simulate(c *gin.Context) {
	var req simulateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	res, err := s.manager.SimulateExpense(req.Amount)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, res)
}

func (s *Server) predict(c *gin.Context) {
	var req predictReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.Days > maxPredictDays {
		badRequest(c, "days must be at most "+strconv.Itoa(maxPredictDays))
		return
	}
	points, err := s.manager.PredictTrend(req.Days, req.DailyExpense, req.Incomes)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, points)
}

func (s *Server) rebuild(c *gin.Context) {
	report, err := s.manager.RebuildAll(c.Request.Context())
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, report)
}

func (s *Server) advance(c *gin.Context) {
	report, err := s.manager.Advance(c.Request.Context())
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, gin.H{"rebuilt": report != nil, "report": report})
}

// ---------- transactions ----------

func (s *Server) listTransactions(c *gin.Context) {
	txs, err := s.journal.List(c.Request.Context())
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, txs)
}

func (s *Server) getTransaction(c *gin.Context) {
	tx, err := s.journal.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, tx)
}

func (s *Server) createTransaction(c *gin.Context) {
	var req createTransactionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	entry := journal.Entry{
		ID:     req.ID,
		Type:   ledger.TransactionType(req.Type),
		Amount: req.Amount,
		Note:   req.Note,
	}
	if req.Date != "" {
		date, err := ledger.ParseDate(req.Date)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		entry.Date = date
	}

	rec, err := s.journal.Record(c.Request.Context(), entry)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, rec)
}

func (s *Server) updateTransaction(c *gin.Context) {
	var req updateTransactionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	patch := journal.Patch{Amount: req.Amount, Note: req.Note}
	if req.Type != nil {
		typ := ledger.TransactionType(*req.Type)
		patch.Type = &typ
	}
	if req.Date != nil {
		date, err := ledger.ParseDate(*req.Date)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		patch.Date = &date
	}

	edited, err := s.journal.Edit(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, edited)
}

func (s *Server) deleteTransaction(c *gin.Context) {
	removed, err := s.journal.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	success(c, removed)
}

// queryLimit reads ?limit=, defaulting to defaultListLimit. It writes the
// error response itself and reports false on a malformed value.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		fail(c, http.StatusBadRequest, CodeInvalidParam, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}
