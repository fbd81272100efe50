package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PurchaseHandler contém os handlers HTTP
type PurchaseHandler struct {
	ingress    *EventIngress
	processor  *TransactionProcessor
	snapshot   *ReferenceSnapshot
	repository Repository
	tracer     trace.Tracer
}

// NewPurchaseHandler cria uma nova instância de PurchaseHandler
func NewPurchaseHandler(
	ingress *EventIngress,
	processor *TransactionProcessor,
	snapshot *ReferenceSnapshot,
	repository Repository,
	tracer trace.Tracer,
) *PurchaseHandler {
	return &PurchaseHandler{
		ingress:    ingress,
		processor:  processor,
		snapshot:   snapshot,
		repository: repository,
		tracer:     tracer,
	}
}

// Checkout processa uma compra de origem web de forma síncrona.
// O corpo traz os tokens "<machine>-<product>-<price>" e a forma de
// pagamento; a resposta é o pedido commitado ou a mensagem de falha.
func (h *PurchaseHandler) Checkout(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "web_checkout")
	defer span.End()

	var req WebCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.ingress.FromWebCheckout(req)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int64("user_id", event.UserID),
		attribute.String("machine_id", event.MachineID),
		attribute.Int("lines", len(event.Lines)),
	)

	order, err := h.processor.Process(ctx, event)
	if err != nil {
		span.RecordError(err)
		c.JSON(purchaseErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(attribute.String("order_id", order.ID))
	c.JSON(http.StatusOK, gin.H{
		"order_id": order.ID,
		"total":    order.Total.StringFixed(2),
		"message":  "purchase completed successfully",
	})
}

// purchaseErrorStatus mapeia a taxonomia de erros do pipeline para HTTP
func purchaseErrorStatus(err error) int {
	switch {
	case IsValidationError(err) || errors.Is(err, ErrChannelNotConfigured):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrStockInsufficient):
		return http.StatusConflict
	case errors.Is(err, ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RefreshSnapshot troca o snapshot de referência por uma cópia fresca
func (h *PurchaseHandler) RefreshSnapshot(c *gin.Context) {
	if err := h.snapshot.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	users, machines, products := h.snapshot.Sizes()
	c.JSON(http.StatusOK, gin.H{
		"users":     users,
		"machines":  machines,
		"products":  products,
		"loaded_at": h.snapshot.LoadedAt(),
	})
}

// RestockRequest é o corpo da reposição de um canal
type RestockRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
}

// Restock repõe volume em um canal da máquina, reativando-o se estava
// out_of_stock e marcando o horário da reposição
func (h *PurchaseHandler) Restock(c *gin.Context) {
	var req RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Quantity <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be positive"})
		return
	}

	machineID := c.Param("id")
	if err := h.repository.Restock(c.Request.Context(), machineID, req.ProductID, req.Quantity); err != nil {
		if errors.Is(err, ErrChannelNotConfigured) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"machine_id": machineID,
		"product_id": req.ProductID,
		"message":    "channel restocked",
	})
}

// ListMachines retorna o catálogo de máquinas com canais ativos
func (h *PurchaseHandler) ListMachines(c *gin.Context) {
	catalog, err := h.repository.ListMachines(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"machines": catalog})
}

// GetOrder retorna um pedido com linhas e pagamento
func (h *PurchaseHandler) GetOrder(c *gin.Context) {
	detail, err := h.repository.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, detail)
}

// HealthCheck verifica a saúde do serviço
func (h *PurchaseHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "purchase-service",
	})
}
