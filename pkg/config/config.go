// Package config resolves the bridge's startup configuration from CLI
// flags and CLAUDE_BRIDGE_* environment variables into one immutable
// Config value. The environment is read exactly once, at startup; nothing
// deeper in the call tree touches os.Getenv.
package config

import (
	"flag"
	"os"
	"strconv"

	"github.com/fabstir/chainbridge/pkg/apierror"
)

// Config is the fully resolved, validated startup configuration.
type Config struct {
	Port          int
	PrivateKey    string
	HostAddress   string // empty means "absent, auto-discovery"
	ModelName     string
	ChainId       int
	DepositAmount string
	PricePerToken int
	ProofInterval int
	Duration      int
	APIKey        string // empty means "no key configured"
	OTLPEndpoint  string
}

// defaults holds the values used for anything neither a flag nor the
// environment sets.
func defaults() Config {
	return Config{
		Port:          3456,
		ChainId:       84532,
		DepositAmount: "0.0002",
		PricePerToken: 5000,
		ProofInterval: 100,
		Duration:      86400,
	}
}

// fromEnv reads the CLAUDE_BRIDGE_* environment variables into a partial
// Config, leaving anything unset as its zero value.
func fromEnv() Config {
	c := Config{}
	if v, ok := os.LookupEnv("CLAUDE_BRIDGE_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	c.PrivateKey = os.Getenv("CLAUDE_BRIDGE_PRIVATE_KEY")
	c.HostAddress = os.Getenv("CLAUDE_BRIDGE_HOST")
	c.ModelName = os.Getenv("CLAUDE_BRIDGE_MODEL")
	if v, ok := os.LookupEnv("CLAUDE_BRIDGE_CHAIN_ID"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.ChainId = n
		}
	}
	c.DepositAmount = os.Getenv("CLAUDE_BRIDGE_DEPOSIT_AMOUNT")
	c.APIKey = os.Getenv("CLAUDE_BRIDGE_API_KEY")
	c.OTLPEndpoint = os.Getenv("CLAUDE_BRIDGE_OTLP_ENDPOINT")
	return c
}

// Flags holds the values flag.Parse populates; Load layers them over an
// environment-derived Config, which is itself layered over defaults().
type Flags struct {
	Port          int
	PrivateKey    string
	HostAddress   string
	ModelName     string
	ChainId       int
	DepositAmount string
	APIKey        string

	portSet          bool
	chainIdSet       bool
	privateKeySet    bool
	hostAddressSet   bool
	modelNameSet     bool
	depositAmountSet bool
	apiKeySet        bool
}

// RegisterFlags declares the bridge's CLI surface on fs and returns a
// Flags value whose fields are populated once fs.Parse runs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.IntVar(&f.Port, "port", 0, "listen port")
	fs.StringVar(&f.PrivateKey, "private-key", "", "EOA private key for the SDK")
	fs.StringVar(&f.HostAddress, "host", "", "optional inference host address")
	fs.StringVar(&f.ModelName, "model", "", "model identifier passed through to the SDK")
	fs.IntVar(&f.ChainId, "chain-id", 0, "chain id for contract/RPC selection")
	fs.StringVar(&f.DepositAmount, "deposit-amount", "", "session deposit")
	fs.StringVar(&f.APIKey, "api-key", "", "when set, required as x-api-key on /v1/messages")
	return f
}

// markSetFlags inspects fs after Parse to record which flags the caller
// actually passed; flag.FlagSet forgets this once Parse returns, so it must
// be captured with Visit immediately afterward.
func (f *Flags) markSetFlags(fs *flag.FlagSet) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			f.portSet = true
		case "private-key":
			f.privateKeySet = true
		case "host":
			f.hostAddressSet = true
		case "model":
			f.modelNameSet = true
		case "chain-id":
			f.chainIdSet = true
		case "deposit-amount":
			f.depositAmountSet = true
		case "api-key":
			f.apiKeySet = true
		}
	})
}

// ParseFlags declares the CLI surface, parses args (typically os.Args[1:]),
// and returns the resulting Flags with its *Set bookkeeping populated.
func ParseFlags(fs *flag.FlagSet, args []string) (*Flags, error) {
	f := RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.markSetFlags(fs)
	return f, nil
}

// Load merges flags over environment over defaults into one resolved
// Config and validates it.
func Load(f *Flags) (Config, error) {
	c := defaults()
	env := fromEnv()

	if env.Port != 0 {
		c.Port = env.Port
	}
	if env.PrivateKey != "" {
		c.PrivateKey = env.PrivateKey
	}
	if env.HostAddress != "" {
		c.HostAddress = env.HostAddress
	}
	if env.ModelName != "" {
		c.ModelName = env.ModelName
	}
	if env.ChainId != 0 {
		c.ChainId = env.ChainId
	}
	if env.DepositAmount != "" {
		c.DepositAmount = env.DepositAmount
	}
	if env.APIKey != "" {
		c.APIKey = env.APIKey
	}
	if env.OTLPEndpoint != "" {
		c.OTLPEndpoint = env.OTLPEndpoint
	}

	if f != nil {
		if f.portSet {
			c.Port = f.Port
		}
		if f.privateKeySet {
			c.PrivateKey = f.PrivateKey
		}
		if f.hostAddressSet {
			c.HostAddress = f.HostAddress
		}
		if f.modelNameSet {
			c.ModelName = f.ModelName
		}
		if f.chainIdSet {
			c.ChainId = f.ChainId
		}
		if f.depositAmountSet {
			c.DepositAmount = f.DepositAmount
		}
		if f.apiKeySet {
			c.APIKey = f.APIKey
		}
	}

	if err := validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// validate checks the resolved Config. It performs no I/O.
func validate(c Config) error {
	if c.PrivateKey == "" {
		return apierror.New(apierror.KindConfigError, "privateKey is required")
	}
	if c.ModelName == "" {
		return apierror.New(apierror.KindConfigError, "modelName is required")
	}
	if c.Port <= 0 {
		return apierror.New(apierror.KindConfigError, "port must be positive")
	}
	if c.ChainId <= 0 {
		return apierror.New(apierror.KindConfigError, "chainId must be positive")
	}
	return nil
}
