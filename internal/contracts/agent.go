// Package contracts holds the ABI and bytecode loading for the on-chain
// agent contract.
package contracts

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Agent contract method names.
const (
	MethodPaymentToken = "paymentToken"
	MethodGetBalance   = "getBalance"
	MethodDeposit      = "deposit"
)

// AgentABIJSON is the interface of the agent contract. The constructor takes
// the payment handler, the payment token and the owner.
const AgentABIJSON = `[
  {"type":"constructor","stateMutability":"nonpayable","inputs":[
    {"name":"paymentHandler","type":"address"},
    {"name":"paymentToken","type":"address"},
    {"name":"owner","type":"address"}]},
  {"type":"function","name":"paymentToken","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getBalance","stateMutability":"view",
   "inputs":[{"name":"token","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"deposit","stateMutability":"nonpayable",
   "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[]}
]`

var (
	agentOnce sync.Once
	agentABI  abi.ABI
	agentErr  error
)

// AgentABI returns the parsed agent ABI.
func AgentABI() (abi.ABI, error) {
	agentOnce.Do(func() {
		agentABI, agentErr = abi.JSON(strings.NewReader(AgentABIJSON))
	})
	return agentABI, agentErr
}

type artifact struct {
	Bytecode json.RawMessage `json:"bytecode"`
}

// LoadAgentBytecode resolves the creation bytecode from an inline hex string
// or, when that is empty, from a compiler artifact carrying a "bytecode"
// field. Both Hardhat ("0x...") and Foundry ({"object": "0x..."}) layouts are
// accepted. Empty inputs yield nil without error.
func LoadAgentBytecode(hexCode, artifactPath string) ([]byte, error) {
	if code := strings.TrimSpace(hexCode); code != "" {
		return decodeHex(code)
	}
	if strings.TrimSpace(artifactPath) == "" {
		return nil, nil
	}
	content, err := os.ReadFile(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("读取合约编译产物失败: %w", err)
	}
	var art artifact
	if err := json.Unmarshal(content, &art); err != nil {
		return nil, fmt.Errorf("解析合约编译产物失败: %w", err)
	}
	if len(art.Bytecode) == 0 {
		return nil, fmt.Errorf("编译产物 %s 缺少 bytecode 字段", artifactPath)
	}

	var code string
	if err := json.Unmarshal(art.Bytecode, &code); err != nil {
		var nested struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(art.Bytecode, &nested); err != nil {
			return nil, fmt.Errorf("无法识别的 bytecode 格式: %w", err)
		}
		code = nested.Object
	}
	return decodeHex(code)
}

func decodeHex(code string) ([]byte, error) {
	code = strings.TrimSpace(code)
	if !strings.HasPrefix(code, "0x") && !strings.HasPrefix(code, "0X") {
		code = "0x" + code
	}
	decoded, err := hexutil.Decode(code)
	if err != nil {
		return nil, fmt.Errorf("合约字节码不是合法的十六进制: %w", err)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("合约字节码为空")
	}
	return decoded, nil
}
