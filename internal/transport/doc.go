// Package transport defines the boundary to the external chat platform.
//
// The scheduler core never talks to the network directly; it goes through
// a Session obtained from a Transport. Adapters live in subpackages
// (restchat, telegram) and map platform errors onto the typed errors here.
package transport
