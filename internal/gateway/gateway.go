package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nathanyu/subscriber-transfer/internal/cqrs"
	"github.com/nathanyu/subscriber-transfer/internal/domain"
	"github.com/nathanyu/subscriber-transfer/internal/engine"
	"github.com/nathanyu/subscriber-transfer/internal/queue"
	"github.com/nathanyu/subscriber-transfer/internal/resolver"
	"github.com/nathanyu/subscriber-transfer/internal/store"
	"github.com/nathanyu/subscriber-transfer/internal/telemetry"
)

// Gateway is the HTTP adapter in front of the transfer engine. It
// resolves caller addresses, decodes requests and renders outcomes as
// status codes; it never touches a balance itself.
type Gateway struct {
	resolver  *resolver.Resolver
	store     *store.Store
	readModel *cqrs.ReadModel

	// Commands go over NATS when a queue client is configured,
	// otherwise straight into the engine.
	queue  *queue.Client
	engine *engine.Engine

	timeout time.Duration
}

// New creates a gateway. queueClient may be nil, in which case
// commands are executed in-process through eng.
func New(res *resolver.Resolver, st *store.Store, rm *cqrs.ReadModel, queueClient *queue.Client, eng *engine.Engine) *Gateway {
	return &Gateway{
		resolver:  res,
		store:     st,
		readModel: rm,
		queue:     queueClient,
		engine:    eng,
		timeout:   5 * time.Second,
	}
}

// resolveCaller maps the client address to a subscriber, writing the
// forbidden response on failure.
func (g *Gateway) resolveCaller(c *gin.Context) (string, bool) {
	addr := c.ClientIP()
	subscriber, err := g.resolver.Resolve(addr)
	if err != nil {
		telemetry.AdmissionRejectedTotal.WithLabelValues("unresolved").Inc()
		c.JSON(http.StatusForbidden, gin.H{
			"error": "no subscriber bound to caller address",
		})
		return "", false
	}
	return subscriber, true
}

// BalanceResponse is the response body for balance queries.
type BalanceResponse struct {
	Subscriber string `json:"subscriber"`
	Balance    string `json:"balance"`
}

// Balance handles GET /balance: the caller's own balance, identified
// purely by address.
func (g *Gateway) Balance(c *gin.Context) {
	subscriber, ok := g.resolveCaller(c)
	if !ok {
		return
	}

	balance, exists := g.store.Get(subscriber)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no account for subscriber",
		})
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{
		Subscriber: subscriber,
		Balance:    balance.String(),
	})
}

// TransferRequest is the request body for the transfer endpoint. The
// amount is a decimal string so cents survive the wire exactly.
type TransferRequest struct {
	Destination string `json:"destination" form:"destination" binding:"required"`
	Amount      string `json:"amount" form:"amount" binding:"required"`
}

// TransferResponse is the response body for the transfer endpoint.
type TransferResponse struct {
	TransactionID string             `json:"transaction_id"`
	Outcome       domain.OutcomeCode `json:"outcome"`
	Reason        string             `json:"reason,omitempty"`
}

// Transfer handles POST /transfer. Success (including the self-transfer
// no-op) redirects form clients back to /balance; JSON clients get the
// outcome body.
func (g *Gateway) Transfer(c *gin.Context) {
	subscriber, ok := g.resolveCaller(c)
	if !ok {
		return
	}

	var req TransferRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "destination and amount are required",
		})
		return
	}

	txnID := uuid.Must(uuid.NewV7()).String()

	amount, err := domain.ParseCents(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, TransferResponse{
			TransactionID: txnID,
			Outcome:       domain.OutcomeInvalidAmount,
			Reason:        "amount must be a positive decimal with at most two fractional digits",
		})
		return
	}

	cmd := domain.TransferCommand{
		TransactionID: txnID,
		Source:        subscriber,
		Destination:   strings.TrimSpace(req.Destination),
		Amount:        amount,
	}

	outcome, ok := g.dispatch(c, cmd)
	if !ok {
		return
	}

	g.renderOutcome(c, outcome)
}

// dispatch submits the command over NATS when configured, or executes
// it directly. Bus failures surface as a retryable 503, never as a
// rejection.
func (g *Gateway) dispatch(c *gin.Context, cmd domain.TransferCommand) (domain.Outcome, bool) {
	if g.queue == nil {
		return g.engine.Execute(c.Request.Context(), cmd), true
	}

	reply, err := g.queue.SubmitCommand(cmd, g.timeout)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, TransferResponse{
			TransactionID: cmd.TransactionID,
			Outcome:       domain.OutcomeTransient,
			Reason:        "transfer engine unavailable, retry",
		})
		return domain.Outcome{}, false
	}
	if reply.Error != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": reply.Error})
		return domain.Outcome{}, false
	}
	return reply.Outcome, true
}

func (g *Gateway) renderOutcome(c *gin.Context, outcome domain.Outcome) {
	resp := TransferResponse{
		TransactionID: outcome.TransactionID,
		Outcome:       outcome.Code,
		Reason:        outcome.Reason,
	}

	switch outcome.Code {
	case domain.OutcomeCompleted:
		if strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded") {
			c.Redirect(http.StatusSeeOther, "/balance")
			return
		}
		c.JSON(http.StatusOK, resp)
	case domain.OutcomeInvalidAmount, domain.OutcomeUnknownDestination:
		c.JSON(http.StatusBadRequest, resp)
	case domain.OutcomeUnknownSource:
		c.JSON(http.StatusNotFound, resp)
	case domain.OutcomeInsufficientFunds:
		c.JSON(http.StatusUnprocessableEntity, resp)
	case domain.OutcomeTransient:
		c.JSON(http.StatusServiceUnavailable, resp)
	default:
		c.JSON(http.StatusInternalServerError, resp)
	}
}

// ProvisionRequest is the request body for account provisioning.
type ProvisionRequest struct {
	Subscriber     string `json:"subscriber" binding:"required"`
	OpeningBalance string `json:"opening_balance" binding:"required"`
}

// Provision handles POST /admin/provision: creates a subscriber
// account with an opening balance. Provisioning is outside the
// transfer path and is the only way value enters the system.
func (g *Gateway) Provision(c *gin.Context) {
	var req ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "subscriber and opening_balance are required",
		})
		return
	}

	opening, err := domain.ParseBalance(req.OpeningBalance)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "opening_balance must be a non-negative decimal",
		})
		return
	}

	txnID := uuid.Must(uuid.NewV7()).String()
	if err := g.store.Provision(txnID, req.Subscriber, opening); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "failed to provision account, retry",
		})
		return
	}

	g.readModel.HandleEntry(domain.AccountProvisioned{
		TransactionID:  txnID,
		Subscriber:     req.Subscriber,
		OpeningBalance: opening,
	})

	c.JSON(http.StatusOK, gin.H{
		"subscriber": req.Subscriber,
		"balance":    opening.String(),
	})
}

// BalancesResponse is the operational view over all accounts.
type BalancesResponse struct {
	Balances     map[string]string `json:"balances"`
	TotalBalance string            `json:"total_balance"`
	AccountCount int               `json:"account_count"`
}

// Balances handles GET /admin/balances from the read model; the total
// is the conservation check an operator watches.
func (g *Gateway) Balances(c *gin.Context) {
	balances := g.readModel.Balances()

	rendered := make(map[string]string, len(balances))
	for subscriber, balance := range balances {
		rendered[subscriber] = balance.String()
	}

	c.JSON(http.StatusOK, BalancesResponse{
		Balances:     rendered,
		TotalBalance: g.readModel.Total().String(),
		AccountCount: len(balances),
	})
}

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// Health handles GET /health.
func (g *Gateway) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// SetupRoutes configures all routes. Wrong verbs on an endpoint get
// 405 from the router before any handler runs.
func SetupRoutes(r *gin.Engine, g *Gateway) {
	r.HandleMethodNotAllowed = true

	r.GET("/health", g.Health)
	r.GET("/balance", g.Balance)
	r.POST("/transfer", g.Transfer)

	admin := r.Group("/admin")
	{
		admin.POST("/provision", g.Provision)
		admin.GET("/balances", g.Balances)
	}
}
