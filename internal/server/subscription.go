package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	catalogdomain "github.com/netvora/billing/internal/catalog/domain"
	subscriptiondomain "github.com/netvora/billing/internal/subscription/domain"
)

type subscribeRequest struct {
	Months int `json:"months"`
}

type subscribeSubnetRequest struct {
	NetworkUlid string `json:"network_ulid"`
	Months      int    `json:"months"`
}

func (s *Server) SubscribeToPlan(c *gin.Context) {
	userID, err := actingUser(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	planID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.Months == 0 {
		req.Months = 12
	}

	found, err := s.plans.FindByID(c.Request.Context(), planID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if found == nil {
		AbortWithError(c, catalogdomain.ErrServiceNotFound)
		return
	}

	svc := s.plans.Bind(found)
	subscription, err := s.subscriptionSvc.SubscribeToService(c.Request.Context(), subscriptiondomain.SubscribeRequest{
		UserID:  userID,
		Service: svc,
		Ref:     svc.Ref(),
		Months:  req.Months,
		PlanID:  &found.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toSubscriptionResponse(subscription)})
}

func (s *Server) SubscribeToSubnet(c *gin.Context) {
	userID, err := actingUser(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req subscribeSubnetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.NetworkUlid == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.Months == 0 {
		req.Months = 12
	}

	found, err := s.subnets.FindByUlid(c.Request.Context(), req.NetworkUlid)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if found == nil {
		AbortWithError(c, catalogdomain.ErrServiceNotFound)
		return
	}

	svc := s.subnets.Bind(found)
	subscription, err := s.subscriptionSvc.SubscribeToService(c.Request.Context(), subscriptiondomain.SubscribeRequest{
		UserID:  userID,
		Service: svc,
		Ref:     svc.Ref(),
		Months:  req.Months,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toSubscriptionResponse(subscription)})
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	var query struct {
		PageToken string `form:"page_token"`
		PageSize  int    `form:"page_size"`
		UserID    string `form:"user_id"`
		Active    *bool  `form:"active"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.subscriptionSvc.List(c.Request.Context(), subscriptiondomain.ListSubscriptionRequest{
		UserID:    strings.TrimSpace(query.UserID),
		Active:    query.Active,
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	subscriptions := make([]gin.H, 0, len(resp.Subscriptions))
	for _, sub := range resp.Subscriptions {
		subscriptions = append(subscriptions, toSubscriptionResponse(sub))
	}

	c.JSON(http.StatusOK, gin.H{"data": subscriptions, "page_info": resp.PageInfo})
}

func toSubscriptionResponse(sub subscriptiondomain.Subscription) gin.H {
	resp := gin.H{
		"id":                sub.ID.String(),
		"user_id":           sub.UserID.String(),
		"service_type":      sub.ServiceType,
		"service_id":        sub.ServiceID.String(),
		"is_active":         sub.IsActive,
		"start_date":        sub.StartDate.Format("2006-01-02"),
		"end_date":          sub.EndDate.Format("2006-01-02"),
		"next_invoice_date": sub.NextInvoiceDate.Format("2006-01-02"),
	}
	if sub.SubscriptionPlanID != nil {
		resp["subscription_plan_id"] = sub.SubscriptionPlanID.String()
	}
	return resp
}
