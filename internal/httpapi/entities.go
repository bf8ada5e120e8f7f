package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-relay/internal/store"
)

// --- Contacts ---

type contactRequest struct {
	Name     *string `json:"name"`
	Phone    *string `json:"phone"`
	PhotoURL *string `json:"photo_url"`
	Favorite *bool   `json:"favorite"`
}

func (h Handlers) ListContacts(c *gin.Context) {
	out, err := h.Store.ListContacts(c.Request.Context(), store.ContactFilter{Search: c.Query("search")})
	if err != nil {
		storeError(c, "list contacts", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) CreateContact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	phone := strings.TrimSpace(store.Deref(req.Phone))
	if phone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing phone"})
		return
	}
	in := store.Contact{
		Name:     strings.TrimSpace(store.Deref(req.Name)),
		Phone:    phone,
		PhotoURL: store.StringPtr(store.Deref(req.PhotoURL)),
	}
	if req.Favorite != nil {
		in.Favorite = *req.Favorite
	}
	out, err := h.Store.CreateContact(c.Request.Context(), in)
	if err != nil {
		storeError(c, "create contact", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) UpdateContact(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing id"})
		return
	}
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	out, err := h.Store.UpdateContact(c.Request.Context(), id, store.ContactPatch{
		Name:     req.Name,
		Phone:    req.Phone,
		PhotoURL: req.PhotoURL,
		Favorite: req.Favorite,
	})
	if err != nil {
		storeError(c, "update contact", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Conversations ---

type createConversationRequest struct {
	ContactID string `json:"contact_id"`
}

type updateConversationRequest struct {
	LastMessage     *string    `json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time"`
	UnreadCount     *int       `json:"unread_count"`
}

func (h Handlers) ListConversations(c *gin.Context) {
	order := store.ConversationOrder(c.DefaultQuery("order", string(store.OrderLastMessageTime)))
	if !order.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid order"})
		return
	}
	out, err := h.Store.ListConversations(c.Request.Context(), store.ConversationFilter{
		ContactID: c.Query("contact_id"),
		Order:     order,
	})
	if err != nil {
		storeError(c, "list conversations", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ContactID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing contact_id"})
		return
	}
	out, err := h.Store.CreateConversation(c.Request.Context(), store.Conversation{ContactID: req.ContactID})
	if err != nil {
		storeError(c, "create conversation", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) UpdateConversation(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing id"})
		return
	}
	var req updateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UnreadCount != nil && *req.UnreadCount < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unread_count must be >= 0"})
		return
	}
	out, err := h.Store.UpdateConversation(c.Request.Context(), id, store.ConversationPatch{
		LastMessagePreview: req.LastMessage,
		LastMessageTime:    req.LastMessageTime,
		UnreadCount:        req.UnreadCount,
	})
	if err != nil {
		storeError(c, "update conversation", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ConversationSummary returns delivery counts for one conversation.
func (h Handlers) ConversationSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	out, err := h.Reporting.ConversationSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		storeError(c, "conversation summary", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) InboxSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	out, err := h.Reporting.InboxSummary(c.Request.Context(), c.Query("contact_id"))
	if err != nil {
		storeError(c, "inbox summary", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Messages ---

// messageView is the message shape the UI consumes.
type messageView struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	SenderPhone    string            `json:"sender_phone"`
	ReceiverPhone  string            `json:"receiver_phone"`
	Content        *string           `json:"content"`
	MessageType    store.MessageType `json:"message_type"`
	MediaURL       *string           `json:"media_url"`
	Status         *string           `json:"status"`
	IsOutgoing     bool              `json:"is_outgoing"`
	CreatedDate    time.Time         `json:"created_date"`
	TwilioSID      *string           `json:"twilio_sid"`
}

type createMessageRequest struct {
	ConversationID string  `json:"conversation_id"`
	SenderPhone    string  `json:"sender_phone"`
	ReceiverPhone  string  `json:"receiver_phone"`
	MessageType    string  `json:"message_type"`
	Content        *string `json:"content"`
	MediaURL       *string `json:"media_url"`
	Status         *string `json:"status"`
	TwilioSID      *string `json:"twilio_sid"`
}

func (h Handlers) isOutgoing(sender string) bool {
	return sender != "" && (sender == h.SendingAddress || sender == h.ProxyAddress)
}

func (h Handlers) ListMessages(c *gin.Context) {
	convID := c.Query("conversation_id")
	if convID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing conversation_id"})
		return
	}
	rows, err := h.Store.ListMessages(c.Request.Context(), convID)
	if err != nil {
		storeError(c, "list messages", err)
		return
	}
	out := make([]messageView, 0, len(rows))
	for _, m := range rows {
		out = append(out, messageView{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderPhone:    m.Sender,
			ReceiverPhone:  m.Receiver,
			Content:        m.Body,
			MessageType:    m.Type,
			MediaURL:       m.ContentURL,
			Status:         m.Status,
			IsOutgoing:     h.isOutgoing(m.Sender),
			CreatedDate:    m.CreatedAt,
			TwilioSID:      m.ExternalID,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) CreateMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ConversationID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing conversation_id"})
		return
	}
	typ := store.MessageType(req.MessageType)
	switch typ {
	case "":
		typ = store.MessageTypeText
	case store.MessageTypeText, store.MessageTypeImage, store.MessageTypeMedia:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid message_type"})
		return
	}

	out, err := h.Store.CreateMessage(c.Request.Context(), store.Message{
		ConversationID: req.ConversationID,
		Sender:         req.SenderPhone,
		Receiver:       req.ReceiverPhone,
		Type:           typ,
		Body:           store.StringPtr(store.Deref(req.Content)),
		ContentURL:     store.StringPtr(store.Deref(req.MediaURL)),
		Status:         store.StringPtr(store.Deref(req.Status)),
		ExternalID:     store.StringPtr(store.Deref(req.TwilioSID)),
	})
	if err != nil {
		storeError(c, "create message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": out.ID})
}

// --- Users ---

type profileRequest struct {
	FullName          *string `json:"full_name"`
	PhotoURL          *string `json:"photo_url"`
	Email             *string `json:"email"`
	TwilioPhoneNumber *string `json:"twilio_phone_number"`
}

// GetProfile returns the operator profile, or defaults carrying the proxy address.
func (h Handlers) GetProfile(c *gin.Context) {
	p, err := h.Store.GetProfile(c.Request.Context())
	if err == nil {
		c.JSON(http.StatusOK, p)
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		storeError(c, "get profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"full_name":           nil,
		"photo_url":           nil,
		"email":               nil,
		"twilio_phone_number": store.StringPtr(h.ProxyAddress),
	})
}

func (h Handlers) SaveProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	out, err := h.Store.SaveProfile(c.Request.Context(), store.Profile{
		FullName:          store.StringPtr(store.Deref(req.FullName)),
		PhotoURL:          store.StringPtr(store.Deref(req.PhotoURL)),
		Email:             store.StringPtr(store.Deref(req.Email)),
		TwilioPhoneNumber: store.StringPtr(store.Deref(req.TwilioPhoneNumber)),
	})
	if err != nil {
		storeError(c, "save profile", err)
		return
	}
	c.JSON(http.StatusOK, out)
}
