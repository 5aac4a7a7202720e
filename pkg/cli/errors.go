package cli

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// StatusMessages maps gateway status codes to human-readable messages
var StatusMessages = map[int]string{
	http.StatusBadRequest:          "Invalid request parameters",
	http.StatusUnauthorized:        "Authentication failed - invalid or missing session",
	http.StatusForbidden:           "Access denied - the mailbox rejected this request",
	http.StatusNotFound:            "Resource not found",
	http.StatusConflict:            "An ingest for this mailbox is already running",
	http.StatusTooManyRequests:     "Rate limit exceeded - please try again later",
	http.StatusInternalServerError: "Internal server error",
	http.StatusServiceUnavailable:  "Service unavailable - the gateway may be misconfigured",
}

// StatusSuggestions provides helpful suggestions for specific status codes
var StatusSuggestions = map[int][]string{
	http.StatusUnauthorized: {
		"Check that your session is correct: " + CodeStyle.Render("--session <token>"),
		"Reconnect the mailbox if its refresh token was revoked",
	},
	http.StatusConflict: {
		"Wait for the running ingest to finish",
		"Check progress with " + CodeStyle.Render("synopsis queue stats"),
	},
	http.StatusTooManyRequests: {
		"Deferred messages are retried by the background queue",
		"Try again in a few moments",
	},
}

var connectionSuggestions = []string{
	"Check that the gateway is running: " + CodeStyle.Render("synopsis gateway"),
	"Verify the gateway address: " + CodeStyle.Render("--gateway-http <addr>"),
	"Check your " + CodeStyle.Render("SYNOPSIS_GATEWAY_HTTP") + " environment variable",
}

// FormatError converts an error to a human-readable message
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if msg, ok := StatusMessages[apiErr.StatusCode]; ok {
			// Include original description if it adds context
			if apiErr.Message != "" && !strings.Contains(strings.ToLower(msg), strings.ToLower(apiErr.Message)) {
				return fmt.Sprintf("%s (%s)", msg, apiErr.Message)
			}
			return msg
		}
		return apiErr.Error()
	}

	return cleanErrorMessage(err.Error())
}

// GetErrorSuggestions returns helpful suggestions for an error
func GetErrorSuggestions(err error) []string {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return StatusSuggestions[apiErr.StatusCode]
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return connectionSuggestions
	}

	return nil
}

// cleanErrorMessage cleans up common error message patterns
func cleanErrorMessage(msg string) string {
	msg = strings.TrimPrefix(msg, "error: ")
	msg = strings.TrimPrefix(msg, "Error: ")

	// For deeply nested errors, just show the most relevant part
	if parts := strings.Split(msg, ": "); len(parts) > 3 {
		msg = parts[0] + ": " + parts[len(parts)-1]
	}

	return msg
}

// PrintFormattedError prints an error with styling and optional suggestions
func PrintFormattedError(title string, err error) {
	fmt.Println()
	PrintErrorMsg(title)

	if err != nil {
		fmt.Printf("  %s\n", DimStyle.Render(FormatError(err)))

		if suggestions := GetErrorSuggestions(err); len(suggestions) > 0 {
			PrintSuggestions("Suggestions:", suggestions)
		}
	}
	fmt.Println()
}
