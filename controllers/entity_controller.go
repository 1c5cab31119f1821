package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/excel-pros/csm-backend/entity"
	"github.com/excel-pros/csm-backend/notify"
	"github.com/excel-pros/csm-backend/webhook"
)

// EntityController exposes the generic schema-driven CRUD surface. Every
// entity type is served by the same four handlers; the schema collection
// decides what is valid.
type EntityController struct {
	store    *entity.Store
	notifier webhook.Notifier
	reps     *notify.Service
	log      *zap.Logger
}

func NewEntityController(store *entity.Store, notifier webhook.Notifier, reps *notify.Service, log *zap.Logger) *EntityController {
	return &EntityController{store: store, notifier: notifier, reps: reps, log: log}
}

// Create handles POST /api/:entityType.
func (ec *EntityController) Create(c *gin.Context) {
	entityType := c.Param("entityType")

	var data bson.M
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	result := ec.store.Create(c.Request.Context(), entityType, data)
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}

	ec.dispatchSideEffects(entityType, "POST", data, result)
	c.JSON(http.StatusCreated, result)
}

// Update handles PUT /api/:entityType/:id. The optional "action" field set to
// "append" pushes array fields instead of replacing them.
func (ec *EntityController) Update(c *gin.Context) {
	entityType := c.Param("entityType")
	id := c.Param("id")

	var body struct {
		Data   bson.M `json:"data"`
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Data == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	mode := entity.ModeReplace
	if body.Action == "append" {
		mode = entity.ModeAppend
	}

	result := ec.store.Update(c.Request.Context(), entityType, id, body.Data, mode)
	if !result.Success {
		status := http.StatusBadRequest
		if result.Message == "No entity found with the provided ID." {
			status = http.StatusNotFound
		}
		c.JSON(status, result)
		return
	}

	ec.dispatchSideEffects(entityType, "PUT", body.Data, result)
	c.JSON(http.StatusOK, result)
}

// Delete handles DELETE /api/:entityType/:id.
func (ec *EntityController) Delete(c *gin.Context) {
	entityType := c.Param("entityType")
	id := c.Param("id")

	result := ec.store.Delete(c.Request.Context(), entityType, id)
	if !result.Success {
		c.JSON(http.StatusNotFound, result)
		return
	}

	ec.dispatchSideEffects(entityType, "DELETE", nil, result)
	c.JSON(http.StatusOK, result)
}

// Get handles GET /api/:entityType with an optional JSON "filter" query
// parameter, plus pagination via "page" and "pageSize".
func (ec *EntityController) Get(c *gin.Context) {
	entityType := c.Param("entityType")

	req := entity.QueryRequest{Filter: bson.M{}}
	if raw := c.Query("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid filter"})
			return
		}
	}
	req.Pagination = paginationFromQuery(c)

	docs, err := ec.store.Query(c.Request.Context(), entityType, req)
	if err != nil {
		ec.log.Error("Query failed", zap.String("entity", entityType), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": docs})
}

// GetByID handles GET /api/:entityType/:id.
func (ec *EntityController) GetByID(c *gin.Context) {
	entityType := c.Param("entityType")
	id := c.Param("id")

	docs, err := ec.store.Query(c.Request.Context(), entityType, entity.QueryRequest{
		Filter:     bson.M{"_id": bson.M{"$eq": id}},
		Pagination: entity.Pagination{Page: 1, PageSize: 1},
	})
	if err != nil {
		ec.log.Error("Query failed", zap.String("entity", entityType), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
		return
	}
	if len(docs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "No entity found with the provided ID."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": docs[0]})
}

// Search handles POST /api/search/:entityType with a full QueryRequest body:
// filter, sort, lookup, unwind, project and pagination.
func (ec *EntityController) Search(c *gin.Context) {
	entityType := c.Param("entityType")

	var req entity.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	docs, err := ec.store.Query(c.Request.Context(), entityType, req)
	if err != nil {
		ec.log.Error("Search failed", zap.String("entity", entityType), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": docs})
}

// dispatchSideEffects fires the outbound webhook and, for messages authored
// by a client, the rep notification chain. Both are fire-and-forget.
func (ec *EntityController) dispatchSideEffects(entityType, operation string, data bson.M, result entity.Result) {
	event := webhook.Event{
		EntityType: entityType,
		Operation:  operation,
		Payload:    toPayload(data),
		EntityID:   idHex(result.ID),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		ec.notifier.Notify(ctx, event)

		if entityType == "Message" && data != nil {
			senderRole, _ := data["senderRole"].(string)
			objectType, _ := data["objectType"].(string)
			objectID := idHex(data["object"])
			ec.reps.NotifyReps(ctx, senderRole, objectType, objectID)
		}
	}()
}

func paginationFromQuery(c *gin.Context) entity.Pagination {
	p := entity.Pagination{Page: 1, PageSize: 100}
	if v, err := strconv.ParseInt(c.Query("page"), 10, 64); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.ParseInt(c.Query("pageSize"), 10, 64); err == nil && v > 0 {
		p.PageSize = v
	}
	return p
}

func toPayload(data bson.M) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func idHex(id interface{}) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	}
	return ""
}
