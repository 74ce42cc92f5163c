package handlers

import (
	"github.com/gorilla/mux"

	"github.com/pliu/sealchat/internal/middleware"
)

type API struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Chats    *ChatHandler
	Messages *MessageHandler
}

// Mount registers the JSON API on r. Everything except register and login
// requires a bearer token.
func (a *API) Mount(r *mux.Router, tokens middleware.TokenVerifier) {
	r.HandleFunc("/api/auth/register", a.Auth.Register).Methods("POST")
	r.HandleFunc("/api/auth/login", a.Auth.Login).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(tokens))

	api.HandleFunc("/auth/me", a.Auth.Me).Methods("GET")

	// Fixed user paths go before /users/{id}.
	api.HandleFunc("/users/search", a.Users.SearchUsers).Methods("GET")
	api.HandleFunc("/users/online", a.Users.OnlineUsers).Methods("GET")
	api.HandleFunc("/users/me/public-key", a.Users.PublishPublicKey).Methods("PUT")
	api.HandleFunc("/users/{id}", a.Users.GetUser).Methods("GET")
	api.HandleFunc("/users/{id}/public-key", a.Users.GetPublicKey).Methods("GET")

	api.HandleFunc("/chats", a.Chats.GetChats).Methods("GET")
	api.HandleFunc("/chats", a.Chats.CreateChat).Methods("POST")
	api.HandleFunc("/chats/{id}", a.Chats.GetChat).Methods("GET")
	api.HandleFunc("/chats/{id}", a.Chats.UpdateChat).Methods("PUT")
	api.HandleFunc("/chats/{id}", a.Chats.DeleteChat).Methods("DELETE")
	api.HandleFunc("/chats/{id}/audit", a.Chats.AuditCounts).Methods("GET")
	api.HandleFunc("/chats/{id}/participants", a.Chats.AddParticipant).Methods("POST")
	api.HandleFunc("/chats/{id}/participants/{userId}", a.Chats.RemoveParticipant).Methods("DELETE")

	api.HandleFunc("/messages", a.Messages.SendMessage).Methods("POST")
	api.HandleFunc("/messages/{conversationId}", a.Messages.GetMessages).Methods("GET")
	api.HandleFunc("/messages/{id}", a.Messages.EditMessage).Methods("PUT")
	api.HandleFunc("/messages/{id}", a.Messages.DeleteMessage).Methods("DELETE")
	api.HandleFunc("/messages/{id}/read", a.Messages.MarkAsRead).Methods("POST")
	api.HandleFunc("/messages/{id}/reactions", a.Messages.AddReaction).Methods("POST")
	api.HandleFunc("/messages/{id}/reactions/{emoji}", a.Messages.RemoveReaction).Methods("DELETE")
}
