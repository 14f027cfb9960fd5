package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseUserID checks that parsing never panics and that accepted values round-trip.
func FuzzParseUserID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE users;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseUserID(input)
		if err != nil {
			return
		}
		if id.IsNil() {
			t.Error("nil identifier accepted")
		}
		roundTrip, err := ParseUserID(id.String())
		if err != nil {
			t.Errorf("valid ID failed round-trip: %v", err)
		}
		if roundTrip != id {
			t.Error("round-trip changed ID value")
		}
		if !utf8.ValidString(input) {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

// FuzzParseAllIDs ensures every identifier kind shares one validation rule.
func FuzzParseAllIDs(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		_, errUser := ParseUserID(input)
		_, errDecl := ParseDeclarationID(input)
		_, errClaim := ParseReclamationID(input)
		_, errConv := ParseConversationID(input)

		accepted := errUser == nil
		if (errDecl == nil) != accepted || (errClaim == nil) != accepted || (errConv == nil) != accepted {
			t.Error("inconsistent parsing across ID types")
		}
	})
}
