package tests

import (
	"errors"
	"fmt"
	"testing"
)

func TestSignupAndLogin(t *testing.T) {
	env := setupTestEnv(t)

	for i := 0; i < 5; i++ {
		username := fmt.Sprintf("user%d", i)
		email := fmt.Sprintf("user%d@mail.com", i)
		password := fmt.Sprintf("user%d_password", i)

		client := env.newClient()
		login, err := client.signup(username, email, password)
		if err != nil {
			t.Fatal(err)
		}

		_, err = client.signup(username, email, password)
		if err == nil {
			t.Fatal("duplicate signup should fail")
		}

		err = client.login(loginInfo{Email: "user@mail.com", Password: password})
		if err == nil {
			t.Fatal("login should fail with wrong email")
		}

		err = client.login(loginInfo{Email: email, Password: "password"})
		if err == nil {
			t.Fatal("login should fail with wrong password")
		}

		err = client.login(login)
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestOnlyAdminCanCreateUsers(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	body := map[string]string{"username": "xyz", "email": "xyz@mail.com", "password": "123"}

	err = user.Post("/user/create").Json(body).Do(nil)
	if err == nil {
		t.Fatal("regular users cannot add users")
	}

	if err := admin.Post("/user/create").Json(body).Do(nil); err != nil {
		t.Fatal(err)
	}

	client := env.newClient()
	if err := client.login(loginInfo{Email: "xyz@mail.com", Password: "123"}); err != nil {
		t.Fatal("new user should be able to log in")
	}
}

func TestAuthRequired(t *testing.T) {
	env := setupTestEnv(t)

	client := env.newClient()

	err := client.Get("/user/info").Do(nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}

	err = client.Post("/project/create").Json(map[string]string{"name": "p"}).Do(nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}
