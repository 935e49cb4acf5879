package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"trauma-chat/models"
	"trauma-chat/store"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Session keys for the authenticated user.
const (
	sessionUserID   = "user_id"
	sessionUserName = "user_name"
)

// AuthHandler handles signup, login and logout.
type AuthHandler struct {
	store *store.Store
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(st *store.Store) *AuthHandler {
	return &AuthHandler{store: st}
}

// SignupPage renders the registration form.
func (h *AuthHandler) SignupPage(c *gin.Context) {
	c.HTML(http.StatusOK, "signup.html", nil)
}

// Signup creates a user from the submitted form. Duplicate emails and
// names are rejected.
func (h *AuthHandler) Signup(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("name"))
	email := strings.TrimSpace(c.PostForm("email"))
	password := c.PostForm("password")

	if name == "" || email == "" || password == "" {
		c.String(http.StatusBadRequest, "Name, email and password are required")
		return
	}

	if _, err := h.store.UserByEmail(c.Request.Context(), email); err == nil {
		c.String(http.StatusBadRequest, "Email already registered")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Printf("Signup lookup error: %v", err)
		c.String(http.StatusInternalServerError, "Server error")
		return
	}

	if _, err := h.store.UserByName(c.Request.Context(), name); err == nil {
		c.String(http.StatusBadRequest, "Name already taken")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Printf("Signup lookup error: %v", err)
		c.String(http.StatusInternalServerError, "Server error")
		return
	}

	user := models.User{
		Name:     name,
		Email:    email,
		Password: password,
	}
	if err := h.store.CreateUser(c.Request.Context(), &user); err != nil {
		log.Printf("Signup create error: %v", err)
		c.String(http.StatusBadRequest, "Error: "+err.Error())
		return
	}

	c.Redirect(http.StatusFound, "/login")
}

// LoginPage renders the login form.
func (h *AuthHandler) LoginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", nil)
}

// Login checks the name and password and populates the session. The
// password compare is verbatim, as stored.
func (h *AuthHandler) Login(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("name"))
	password := c.PostForm("password")

	user, err := h.store.UserByName(c.Request.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		c.String(http.StatusBadRequest, "No user found with this name")
		return
	}
	if err != nil {
		log.Printf("Login lookup error: %v", err)
		c.String(http.StatusInternalServerError, "Server error: "+err.Error())
		return
	}

	if user.Password != password {
		c.String(http.StatusBadRequest, "Wrong password")
		return
	}

	session := sessions.Default(c)
	session.Set(sessionUserID, user.ID.String())
	session.Set(sessionUserName, user.Name)
	if err := session.Save(); err != nil {
		log.Printf("Login session error: %v", err)
		c.String(http.StatusInternalServerError, "Server error: "+err.Error())
		return
	}

	c.Redirect(http.StatusFound, "/chat")
}

// Logout destroys the session.
func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{MaxAge: -1})
	if err := session.Save(); err != nil {
		log.Printf("Logout session error: %v", err)
	}

	c.Redirect(http.StatusFound, "/login")
}
