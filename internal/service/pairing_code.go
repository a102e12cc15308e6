package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"callpanion-core/internal/domain"
)

// PairingSecrets 配对码与 token 的生成器；测试可替换
type PairingSecrets interface {
	NewCode() (string, error)
	NewToken() (string, error)
}

// cryptoSecrets 基于 crypto/rand：配对码在 [100000, 999999] 上均匀分布，
// token 为 128 位随机数的十六进制，与配对码互相独立
type cryptoSecrets struct{}

func (cryptoSecrets) NewCode() (string, error) {
	span := big.NewInt(domain.PairingCodeMax - domain.PairingCodeMin + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+domain.PairingCodeMin), nil
}

func (cryptoSecrets) NewToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate pairing token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// isPairingCode 6 位数字
func isPairingCode(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s[0] != '0'
}
