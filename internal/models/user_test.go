package models

import "testing"

func TestPasswordHashing(t *testing.T) {
	user := &User{Password: "hunter22"}
	if err := user.HashPassword(); err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if user.PasswordHash == "" || user.PasswordHash == "hunter22" {
		t.Fatal("password was not hashed")
	}
	if err := user.CheckPassword("hunter22"); err != nil {
		t.Fatalf("CheckPassword rejected the right password: %v", err)
	}
	if err := user.CheckPassword("wrong"); err == nil {
		t.Fatal("CheckPassword accepted the wrong password")
	}
}

func TestHashPasswordEmptyIsNoop(t *testing.T) {
	user := &User{}
	if err := user.HashPassword(); err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if user.PasswordHash != "" {
		t.Fatal("empty password should not produce a hash")
	}
}

func TestContactPhone(t *testing.T) {
	user := &User{PhoneNumber: "0700112233"}
	if got := user.ContactPhone(); got != "0700112233" {
		t.Fatalf("ContactPhone = %q", got)
	}
	user.PhoneNumber = ""
	if got := user.ContactPhone(); got != "Not available" {
		t.Fatalf("ContactPhone = %q, want Not available", got)
	}
}
