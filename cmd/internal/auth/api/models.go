package authapi

import "time"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userInfo struct {
	SubjectID string    `json:"subject_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type loginResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int64    `json:"expires_in"`
	UserInfo    userInfo `json:"user_info"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type logoutAllResponse struct {
	OK           bool  `json:"ok"`
	RevokedCount int64 `json:"revoked_count"`
}

type cleanupResponse struct {
	RemovedCount int64 `json:"removed_count"`
}
