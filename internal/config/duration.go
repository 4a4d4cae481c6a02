package config

import (
	"encoding/json"
	"fmt"
	"time"
)

func parseDurationField(name, raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s format: %w", name, err)
	}
	*dst = d
	return nil
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		SweepInterval  string `json:"sweep_interval"`
		ShutdownWindow string `json:"shutdown_window"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := parseDurationField("sweep_interval", aux.SweepInterval, &a.SweepInterval); err != nil {
		return err
	}
	return parseDurationField("shutdown_window", aux.ShutdownWindow, &a.ShutdownWindow)
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		SweepInterval  string `json:"sweep_interval"`
		ShutdownWindow string `json:"shutdown_window"`
		*Alias
	}{
		SweepInterval:  a.SweepInterval.String(),
		ShutdownWindow: a.ShutdownWindow.String(),
		Alias:          (*Alias)(&a),
	})
}

func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	type Alias SecurityConfig
	aux := &struct {
		SessionTTL string `json:"session_ttl"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDurationField("session_ttl", aux.SessionTTL, &s.SessionTTL)
}

func (s SecurityConfig) MarshalJSON() ([]byte, error) {
	type Alias SecurityConfig
	return json.Marshal(&struct {
		SessionTTL string `json:"session_ttl"`
		*Alias
	}{
		SessionTTL: s.SessionTTL.String(),
		Alias:      (*Alias)(&s),
	})
}

func (v *VerificationConfig) UnmarshalJSON(data []byte) error {
	type Alias VerificationConfig
	aux := &struct {
		PasswordResetTTL  string `json:"password_reset_ttl"`
		TwoFactorSetupTTL string `json:"two_factor_setup_ttl"`
		TwoFactorLoginTTL string `json:"two_factor_login_ttl"`
		ResendCooldown    string `json:"resend_cooldown"`
		DispatchTimeout   string `json:"dispatch_timeout"`
		*Alias
	}{
		Alias: (*Alias)(v),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"password_reset_ttl", aux.PasswordResetTTL, &v.PasswordResetTTL},
		{"two_factor_setup_ttl", aux.TwoFactorSetupTTL, &v.TwoFactorSetupTTL},
		{"two_factor_login_ttl", aux.TwoFactorLoginTTL, &v.TwoFactorLoginTTL},
		{"resend_cooldown", aux.ResendCooldown, &v.ResendCooldown},
		{"dispatch_timeout", aux.DispatchTimeout, &v.DispatchTimeout},
	}
	for _, f := range fields {
		if err := parseDurationField(f.name, f.raw, f.dst); err != nil {
			return err
		}
	}
	return nil
}

func (v VerificationConfig) MarshalJSON() ([]byte, error) {
	type Alias VerificationConfig
	return json.Marshal(&struct {
		PasswordResetTTL  string `json:"password_reset_ttl"`
		TwoFactorSetupTTL string `json:"two_factor_setup_ttl"`
		TwoFactorLoginTTL string `json:"two_factor_login_ttl"`
		ResendCooldown    string `json:"resend_cooldown"`
		DispatchTimeout   string `json:"dispatch_timeout"`
		*Alias
	}{
		PasswordResetTTL:  v.PasswordResetTTL.String(),
		TwoFactorSetupTTL: v.TwoFactorSetupTTL.String(),
		TwoFactorLoginTTL: v.TwoFactorLoginTTL.String(),
		ResendCooldown:    v.ResendCooldown.String(),
		DispatchTimeout:   v.DispatchTimeout.String(),
		Alias:             (*Alias)(&v),
	})
}
