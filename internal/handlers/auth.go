package handlers

import (
	"errors"
	"net/http"

	"github.com/3Eeeecho/go-fileshare/internal/models"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/xerr"
	"github.com/3Eeeecho/go-fileshare/internal/services/admin"
	"github.com/gin-gonic/gin"
)

// LoginRequest 登录请求结构体
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"` // 可以是用户名或邮箱
	Password   string `json:"password" binding:"required"`
}

// Register 用户注册
// @Summary 用户注册
// @Description 用户注册接口
// @Tags 用户认证
// @Accept json
// @Produce json
// @Param data body models.RegisterRequest true "注册信息"
// @Success 200 {object} xerr.Response "注册成功"
// @Failure 400 {object} xerr.Response "参数错误"
// @Failure 409 {object} xerr.Response "用户名或邮箱已存在"
// @Router /api/v1/auth/register [post]
func Register(authService admin.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RegisterRequest
		if err := c.ShouldBind(&req); err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.CodeInvalidParams, err.Error())
			return
		}

		user, err := authService.RegisterUser(req.Username, req.Password, req.Email)
		if err != nil {
			if errors.Is(err, xerr.ErrUserAlreadyExists) {
				xerr.Error(c, http.StatusConflict, xerr.CodeUserAlreadyExists, err.Error())
				return
			}
			if errors.Is(err, xerr.ErrEmailAlreadyExists) {
				xerr.Error(c, http.StatusConflict, xerr.CodeEmailAlreadyExists, err.Error())
				return
			}
			xerr.Error(c, http.StatusInternalServerError, xerr.CodeInternalServerError, "Failed to register user")
			return
		}

		xerr.Success(c, http.StatusOK, "User registered successfully", gin.H{
			"user_id":  user.ID,
			"username": user.Username,
			"email":    user.Email,
		})
	}
}

// Login 用户登录
// @Summary 用户登录
// @Description 用户登录接口，identifier 支持用户名或邮箱
// @Tags 用户认证
// @Accept json
// @Produce json
// @Param data body LoginRequest true "登录信息"
// @Success 200 {object} xerr.Response "登录成功，返回token"
// @Failure 400 {object} xerr.Response "参数错误"
// @Failure 401 {object} xerr.Response "用户名或密码错误"
// @Router /api/v1/auth/login [post]
func Login(authService admin.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBind(&req); err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.CodeInvalidParams, err.Error())
			return
		}

		token, user, err := authService.LoginUser(req.Identifier, req.Password)
		if err != nil {
			if errors.Is(err, xerr.ErrInvalidCredentials) {
				xerr.Error(c, http.StatusUnauthorized, xerr.CodeInvalidCredentials, err.Error())
				return
			}
			xerr.Error(c, http.StatusInternalServerError, xerr.CodeInternalServerError, "Failed to login")
			return
		}

		xerr.Success(c, http.StatusOK, "Login successful", models.LoginResponse{
			Token:    token,
			UserID:   user.ID,
			Username: user.Username,
		})
	}
}
