package utils

import "testing"

func TestValidatePasswordPolicy(t *testing.T) {
	cases := []struct {
		name string
		pw   string
		ok   bool
	}{
		{"too short", "Ab1!x", false},
		{"no upper", "abcdefg1!x", false},
		{"no special", "Abcdefgh12", false},
		{"weak substring", "Password-12345", false},
		{"brand substring", "VoiceFrame#2026x", false},
		{"good", "Tr0picalThunder!", true},
	}
	for _, tc := range cases {
		ok, reason := ValidatePasswordPolicy(tc.pw)
		if ok != tc.ok {
			t.Errorf("%s: got ok=%v reason=%q", tc.name, ok, reason)
		}
	}
}

func TestValidatePasswordPolicyDisallowsPersonalInfo(t *testing.T) {
	ok, _ := ValidatePasswordPolicy("Alice#Summer2026", "alice@example.com", "alice")
	if ok {
		t.Fatal("password containing the admin's name should be rejected")
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Tr0picalThunder!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPasswordHash("Tr0picalThunder!", hash) {
		t.Fatal("correct password rejected")
	}
	if CheckPasswordHash("wrong-password", hash) {
		t.Fatal("wrong password accepted")
	}
}
