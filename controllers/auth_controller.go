package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/excel-pros/csm-backend/entity"
	"github.com/excel-pros/csm-backend/middleware"
)

// AuthController issues tokens against the User collection. Passwords are
// hashed by the schema layer on signup; login verifies with bcrypt.
type AuthController struct {
	store *entity.Store
	log   *zap.Logger
}

func NewAuthController(store *entity.Store, log *zap.Logger) *AuthController {
	return &AuthController{store: store, log: log}
}

// Signup handles POST /auth/signup by creating a User entity. The User
// schema's hashedFields take care of bcrypt-hashing the password.
func (ac *AuthController) Signup(c *gin.Context) {
	var data bson.M
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	result := ac.store.Create(c.Request.Context(), "User", data)
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Login handles POST /auth/login with {email, password}.
func (ac *AuthController) Login(c *gin.Context) {
	var body struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Email and password are required"})
		return
	}

	docs, err := ac.store.Query(c.Request.Context(), "User", entity.QueryRequest{
		Filter:     bson.M{"email": body.Email},
		Pagination: entity.Pagination{Page: 1, PageSize: 1},
	})
	if err != nil {
		ac.log.Error("Login query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
		return
	}
	if len(docs) == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid credentials"})
		return
	}

	user := docs[0]
	hashed, _ := user["password"].(string)
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(body.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid credentials"})
		return
	}

	role, _ := user["role"].(string)
	tokens, err := middleware.GenerateTokenPair(idHex(user["_id"]), role)
	if err != nil {
		ac.log.Error("Failed to generate tokens", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to generate tokens"})
		return
	}

	c.SetCookie("token", tokens.AccessToken, 900, "/", "", false, true)
	c.SetCookie("refresh_token", tokens.RefreshToken, 604800, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
	})
}
