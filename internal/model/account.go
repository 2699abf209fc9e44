package model

type Account struct {
	Username string `json:"username"`
	Password string `json:"-"`
}
