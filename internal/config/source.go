package config

// Credentials 是一次批量签到所需的账号列表和打码平台 token。
// 用户名与密码按下标一一对应，保留空项；长度是否一致、是否有空项由调用方校验。
type Credentials struct {
	Usernames   []string
	Passwords   []string
	SolverToken string
}

func (c Config) Credentials() Credentials {
	return Credentials{
		Usernames:   SplitFields(c.EZWeb.Usernames),
		Passwords:   SplitFields(c.EZWeb.Passwords),
		SolverToken: c.OCR.Token,
	}
}

type CredentialSource interface {
	Credentials() (Credentials, error)
}

// FileSource 每次调用都重新读取配置文件，修改账号后无需重启进程。
type FileSource struct {
	Path string
}

func (s FileSource) Credentials() (Credentials, error) {
	cfg, err := Load(s.Path)
	if err != nil {
		return Credentials{}, err
	}
	return cfg.Credentials(), nil
}

type StaticSource Credentials

func (s StaticSource) Credentials() (Credentials, error) {
	return Credentials(s), nil
}
