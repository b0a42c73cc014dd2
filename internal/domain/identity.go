package domain

// Identity 是经过认证的调用者身份，由外部身份提供方签发的 token 解析而来。
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// DisplayName 返回展示名，依次回退到邮箱和 "Anonymous"。
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	if i.Email != "" {
		return i.Email
	}
	return "Anonymous"
}
