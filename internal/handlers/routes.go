package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes wires the REST surface. Room routes share the :room segment;
// lookup and join take a code there, every other route a room id.
func RegisterRoutes(router gin.IRouter, rooms *RoomHandler, messages *MessageHandler, conversations *ConversationHandler) {
	api := router.Group("/api")

	api.POST("/rooms", rooms.CreateRoom)
	api.GET("/rooms/:room", rooms.GetRoom)
	api.POST("/rooms/:room/join", rooms.JoinRoom)
	api.POST("/rooms/:room/leave", rooms.LeaveRoom)
	api.POST("/rooms/:room/lock", rooms.LockRoom)
	api.POST("/rooms/:room/unlock", rooms.UnlockRoom)
	api.POST("/rooms/:room/regenerate", rooms.RegenerateCode)
	api.GET("/rooms/:room/participants", rooms.ListParticipants)
	api.GET("/rooms/:room/messages", rooms.GetMessages)
	api.POST("/rooms/:room/messages", rooms.PostMessage)
	api.GET("/rooms/:room/pinned", rooms.GetPinnedMessages)
	api.POST("/rooms/:room/clear", rooms.ClearRoom)
	api.POST("/rooms/:room/fake", rooms.InjectFake)

	api.GET("/messages/:id", messages.GetMessage)
	api.PUT("/messages/:id", messages.EditMessage)
	api.DELETE("/messages/:id", messages.DeleteMessage)
	api.POST("/messages/:id/pin", messages.PinMessage)
	api.DELETE("/messages/:id/pin", messages.UnpinMessage)
	api.POST("/messages/:id/react", messages.AddReaction)
	api.DELETE("/messages/:id/react", messages.RemoveReaction)
	api.POST("/messages/:id/vote", messages.Vote)
	api.DELETE("/messages/:id/vote", messages.RetractVote)
	api.POST("/messages/:id/close", messages.ClosePoll)
	api.POST("/messages/:id/read", messages.MarkRead)

	api.GET("/conversations/:user_id", conversations.ListConversations)
	api.GET("/conversations/:user_id/:peer_id/messages", conversations.GetConversation)
	api.POST("/conversations/:user_id/:peer_id/messages", conversations.SendDM)
	api.PUT("/dm/messages/:id", conversations.EditDM)
	api.DELETE("/dm/messages/:id", conversations.DeleteDM)
	api.POST("/dm/messages/:id/read", conversations.MarkDMRead)
}
