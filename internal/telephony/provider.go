package telephony

import (
	conversations "github.com/twilio/twilio-go/rest/conversations/v1"
)

// Rules:
// - No provider SDK calls outside telephony adapters.
// - Business logic depends on messaging.Provider, never on these interfaces.

// conversationsAPI is the subset of the Twilio Conversations v1 client used for messaging.
// *conversations.ApiService satisfies it.
type conversationsAPI interface {
	CreateConversation(params *conversations.CreateConversationParams) (*conversations.ConversationsV1Conversation, error)
	CreateServiceConversation(chatServiceSid string, params *conversations.CreateServiceConversationParams) (*conversations.ConversationsV1ServiceConversation, error)
	FetchConversation(sid string) (*conversations.ConversationsV1Conversation, error)

	CreateConversationParticipant(conversationSid string, params *conversations.CreateConversationParticipantParams) (*conversations.ConversationsV1ConversationParticipant, error)
	CreateServiceConversationParticipant(chatServiceSid string, conversationSid string, params *conversations.CreateServiceConversationParticipantParams) (*conversations.ConversationsV1ServiceConversationParticipant, error)

	CreateConversationMessage(conversationSid string, params *conversations.CreateConversationMessageParams) (*conversations.ConversationsV1ConversationMessage, error)
	CreateServiceConversationMessage(chatServiceSid string, conversationSid string, params *conversations.CreateServiceConversationMessageParams) (*conversations.ConversationsV1ServiceConversationMessage, error)
}

// serviceAdminAPI is the subset of the Conversations v1 client used to configure services.
type serviceAdminAPI interface {
	ListService(params *conversations.ListServiceParams) ([]conversations.ConversationsV1Service, error)
	CreateService(params *conversations.CreateServiceParams) (*conversations.ConversationsV1Service, error)
	UpdateServiceWebhookConfiguration(chatServiceSid string, params *conversations.UpdateServiceWebhookConfigurationParams) (*conversations.ConversationsV1ServiceWebhookConfiguration, error)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
