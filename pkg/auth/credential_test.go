package auth

import "testing"

func TestHashPasswordAndVerify(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	cred := NewAdminCredential(hash)
	if err := cred.Verify("correct horse battery"); err != nil {
		t.Fatalf("Verify(correct password): %v", err)
	}
	if err := cred.Verify("wrong password!"); err != ErrInvalidCredentials {
		t.Fatalf("Verify(wrong password) = %v, want ErrInvalidCredentials", err)
	}
}

func TestHashPasswordLengthBounds(t *testing.T) {
	if _, err := HashPassword("short"); err != ErrPasswordTooShort {
		t.Errorf("short password: err = %v", err)
	}
	long := make([]byte, MaxPasswordLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := HashPassword(string(long)); err != ErrPasswordTooLong {
		t.Errorf("long password: err = %v", err)
	}
}

func TestAdminJWTIssueVerify(t *testing.T) {
	svc, err := NewAdminJWTService(AdminJWTConfig{Secret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("NewAdminJWTService: %v", err)
	}
	token, _, err := svc.Issue("operator-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Operator != "operator-1" {
		t.Errorf("Operator = %q", claims.Operator)
	}

	other, _ := NewAdminJWTService(AdminJWTConfig{Secret: "another-secret-another-secret-32b!"})
	if _, err := other.Verify(token); err != ErrInvalidAdminToken {
		t.Errorf("cross-secret verify: err = %v, want ErrInvalidAdminToken", err)
	}
}

func TestAdminJWTSecretTooShort(t *testing.T) {
	if _, err := NewAdminJWTService(AdminJWTConfig{Secret: "short"}); err != ErrAdminSecretTooShort {
		t.Fatalf("err = %v, want ErrAdminSecretTooShort", err)
	}
}
