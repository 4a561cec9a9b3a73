// Package contact builds telephony and chat deep links for drivers.
package contact

import (
	"strings"
	"unicode"

	"github.com/ukydev/busflow/internal/models"
)

// Card is what a passenger or admin sees to reach a driver.
type Card struct {
	DriverID string `json:"driver_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Call     string `json:"call,omitempty"`
	Chat     string `json:"chat,omitempty"`
}

// CallLink returns a tel: URI for phone, or "" if phone is blank.
func CallLink(phone string) string {
	p := strings.Join(strings.Fields(phone), "")
	if p == "" {
		return ""
	}
	return "tel:" + p
}

// ChatLink returns a WhatsApp click-to-chat URL. wa.me wants the number as
// digits only, country code included.
func ChatLink(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return ""
	}
	return "https://wa.me/" + digits
}

// For builds the contact card of d.
func For(d models.Driver) Card {
	return Card{
		DriverID: d.ID,
		Name:     d.Name,
		Phone:    d.Phone,
		Call:     CallLink(d.Phone),
		Chat:     ChatLink(d.Phone),
	}
}
