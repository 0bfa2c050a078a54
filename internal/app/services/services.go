// Package services holds the business logic of the chat core.
//
// Services defined in this package:
// - ChatService: room directory, message store and read tracking
package services
