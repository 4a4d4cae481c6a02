package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Jun20220703/bit216as/internal/api/middleware"
	"github.com/Jun20220703/bit216as/internal/inventory"
	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/store"

	"github.com/gin-gonic/gin"
)

// createFoodRequest 新增食品的请求参数。
type createFoodRequest struct {
	Name     string `json:"name" binding:"required"`
	Qty      int    `json:"qty" binding:"min=0"`
	Expiry   string `json:"expiry" binding:"required"` // 2006-01-02 或 RFC3339
	Category string `json:"category"`
	Storage  string `json:"storage"`
	Notes    string `json:"notes"`
}

type updateFoodRequest struct {
	Name     *string `json:"name"`
	Qty      *int    `json:"qty"`
	Expiry   *string `json:"expiry"`
	Category *string `json:"category"`
	Storage  *string `json:"storage"`
	Notes    *string `json:"notes"`
}

type updateFoodStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type useFoodRequest struct {
	Qty int `json:"qty" binding:"required,min=1"`
}

type createDonationRequest struct {
	FoodID       string `json:"foodId" binding:"required"`
	Qty          int    `json:"qty"`
	Location     string `json:"location" binding:"required"`
	Availability string `json:"availability" binding:"required"`
	Notes        string `json:"notes"`
}

// handleListFoods 返回当前用户的库存视图。
//
// 查询参数: status, category（可重复）, storage, q
func (s *Server) handleListFoods(c *gin.Context) {
	filter := inventory.Filter{
		Categories: c.QueryArray("category"),
		Storage:    strings.TrimSpace(c.Query("storage")),
		Query:      c.Query("q"),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		st, err := model.ParseItemStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		filter.Status = st
	}

	items, err := s.store.ListFoods(c.Request.Context(), store.FoodFilter{Owner: middleware.UserID(c)})
	if err != nil {
		s.storeFailed(c, "list foods", err)
		return
	}
	c.JSON(http.StatusOK, inventory.Summarize(items, filter, s.now()))
}

func (s *Server) handleCreateFood(c *gin.Context) {
	var req createFoodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	expiry, err := parseExpiry(req.Expiry)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expiry date"})
		return
	}

	item := &model.FoodItem{
		Owner:    middleware.UserID(c),
		Name:     name,
		Qty:      req.Qty,
		Expiry:   expiry,
		Category: strings.TrimSpace(req.Category),
		Storage:  strings.TrimSpace(req.Storage),
		Notes:    req.Notes,
		Status:   model.StatusInventory,
	}
	if err := s.store.CreateFood(c.Request.Context(), item); err != nil {
		s.storeFailed(c, "create food", err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) handleGetFood(c *gin.Context) {
	item, ok := s.ownedFood(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) handleUpdateFood(c *gin.Context) {
	var req updateFoodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item, ok := s.ownedFood(c)
	if !ok {
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		item.Name = name
	}
	if req.Qty != nil {
		if *req.Qty < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "qty must not be negative"})
			return
		}
		item.Qty = *req.Qty
	}
	if req.Expiry != nil {
		expiry, err := parseExpiry(*req.Expiry)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expiry date"})
			return
		}
		item.Expiry = expiry
	}
	if req.Category != nil {
		item.Category = strings.TrimSpace(*req.Category)
	}
	if req.Storage != nil {
		item.Storage = strings.TrimSpace(*req.Storage)
	}
	if req.Notes != nil {
		item.Notes = *req.Notes
	}

	if err := s.store.UpdateFood(c.Request.Context(), item); err != nil {
		s.storeFailed(c, "update food", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) handleDeleteFood(c *gin.Context) {
	item, ok := s.ownedFood(c)
	if !ok {
		return
	}
	if err := s.store.DeleteFood(c.Request.Context(), item.ID); err != nil {
		s.storeFailed(c, "delete food", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": item.ID})
}

// handleUpdateFoodStatus 按状态机迁移食品状态（consumed / expired）。
func (s *Server) handleUpdateFoodStatus(c *gin.Context) {
	var req updateFoodStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, err := model.ParseItemStatus(strings.TrimSpace(req.Status))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	item, ok := s.ownedFood(c)
	if !ok {
		return
	}
	// 捐赠的发布与撤回只走 /donations，捐赠列表与食品状态同时更新
	if to == model.StatusDonation || item.Status == model.StatusDonation {
		c.JSON(http.StatusBadRequest, gin.H{"error": "use /donations to donate or withdraw an item", "from": item.Status, "to": to})
		return
	}
	if !item.Status.CanTransition(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status transition", "from": item.Status, "to": to})
		return
	}
	item.Status = to
	if err := s.store.UpdateFood(c.Request.Context(), item); err != nil {
		s.storeFailed(c, "update food status", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// handleUseFood 扣减数量，用完后标记为 consumed。
func (s *Server) handleUseFood(c *gin.Context) {
	var req useFoodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item, ok := s.ownedFood(c)
	if !ok {
		return
	}
	if item.Status != model.StatusInventory {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item is not in inventory"})
		return
	}
	if req.Qty > item.Qty {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not enough quantity", "available": item.Qty})
		return
	}
	item.Qty -= req.Qty
	if item.Qty == 0 {
		item.Status = model.StatusConsumed
	}
	if err := s.store.UpdateFood(c.Request.Context(), item); err != nil {
		s.storeFailed(c, "use food", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// handleListDonations 返回所有用户可见的捐赠列表。
func (s *Server) handleListDonations(c *gin.Context) {
	list, err := s.store.ListDonations(c.Request.Context())
	if err != nil {
		s.storeFailed(c, "list donations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"donations": list, "total": len(list)})
}

// handleCreateDonation 将库存食品转入捐赠列表。
func (s *Server) handleCreateDonation(c *gin.Context) {
	var req createDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	location := strings.TrimSpace(req.Location)
	availability := strings.TrimSpace(req.Availability)
	if location == "" || availability == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pickup location and availability are required"})
		return
	}

	ctx := c.Request.Context()
	item, err := s.store.GetFood(ctx, req.FoodID)
	if err != nil || item.Owner != middleware.UserID(c) {
		if err == nil || errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "food item not found"})
			return
		}
		s.storeFailed(c, "get food", err)
		return
	}
	if !item.Status.CanTransition(model.StatusDonation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only inventory items can be donated"})
		return
	}
	qty := req.Qty
	if qty <= 0 || qty > item.Qty {
		qty = item.Qty
	}

	donation := &model.Donation{
		FoodID:       item.ID,
		FoodName:     item.Name,
		Owner:        item.Owner,
		Qty:          qty,
		Location:     location,
		Availability: availability,
		Notes:        req.Notes,
	}
	if err := s.store.CreateDonation(ctx, donation); err != nil {
		s.storeFailed(c, "create donation", err)
		return
	}
	item.Status = model.StatusDonation
	if err := s.store.UpdateFood(ctx, item); err != nil {
		// 回滚捐赠记录，避免列表中出现仍在库存中的食品
		if delErr := s.store.DeleteDonation(ctx, donation.ID); delErr != nil {
			s.logger.Warn("rollback donation failed", slog.String("id", donation.ID), slog.String("error", delErr.Error()))
		}
		s.storeFailed(c, "mark food donated", err)
		return
	}
	c.JSON(http.StatusCreated, donation)
}

// handleDeleteDonation 撤回捐赠，只有发布者可以操作；食品回到库存。
func (s *Server) handleDeleteDonation(c *gin.Context) {
	ctx := c.Request.Context()
	donation, err := s.store.GetDonation(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "donation not found"})
			return
		}
		s.storeFailed(c, "get donation", err)
		return
	}
	if donation.Owner != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the donor can withdraw this donation"})
		return
	}
	if err := s.store.DeleteDonation(ctx, donation.ID); err != nil {
		s.storeFailed(c, "delete donation", err)
		return
	}

	item, err := s.store.GetFood(ctx, donation.FoodID)
	if err == nil && item.Status == model.StatusDonation {
		item.Status = model.StatusInventory
		if err := s.store.UpdateFood(ctx, item); err != nil {
			s.logger.Warn("restore donated food failed", slog.String("food_id", item.ID), slog.String("error", err.Error()))
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": donation.ID})
}

// ownedFood 读取路径中的食品，不存在或不属于当前用户时返回 404。
func (s *Server) ownedFood(c *gin.Context) (*model.FoodItem, bool) {
	item, err := s.store.GetFood(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "food item not found"})
			return nil, false
		}
		s.storeFailed(c, "get food", err)
		return nil, false
	}
	if item.Owner != middleware.UserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "food item not found"})
		return nil, false
	}
	return item, true
}

func (s *Server) storeFailed(c *gin.Context, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	s.logger.Error(op+" failed", slog.String("error", err.Error()))
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": op + " failed"})
}

func parseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
