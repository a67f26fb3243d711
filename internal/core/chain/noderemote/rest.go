package noderemote

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/go-resty/resty/v2"
	chain "github.com/h3tag-network/chaincore/internal/core/chain"
	"github.com/h3tag-network/chaincore/internal/core/chain/chainmodels"
	"github.com/pkg/errors"
	"golang.org/x/net/proxy"
)

type RestOpts struct {
	HTTPClient *http.Client
	BaseURL    string
	SocksProxy string
	ProxyAuth  *proxy.Auth
}

type RestOptsFunc func(*RestOpts)

func WithHTTPClient(cli *http.Client) RestOptsFunc {
	return func(o *RestOpts) { o.HTTPClient = cli }
}

func WithBaseURL(url string) RestOptsFunc {
	return func(o *RestOpts) { o.BaseURL = url }
}

// WithSocksProxy routes all requests through a SOCKS5 proxy.
func WithSocksProxy(addr string, auth *proxy.Auth) RestOptsFunc {
	return func(o *RestOpts) {
		o.SocksProxy = addr
		o.ProxyAuth = auth
	}
}

// Rest talks to a remote chaincore node's REST surface and satisfies the
// same Client interface the local core does.
type Rest struct {
	cli  *resty.Client
	base string
}

var _ chain.Client = (*Rest)(nil)

func NewRest(opts ...RestOptsFunc) (*Rest, error) {
	var options RestOpts
	for _, opt := range opts {
		opt(&options)
	}

	cli := resty.New()
	switch {
	case options.HTTPClient != nil:
		cli = resty.NewWithClient(options.HTTPClient)
	case options.SocksProxy != "":
		d, err := proxy.SOCKS5("tcp", options.SocksProxy, options.ProxyAuth, proxy.Direct)
		if err != nil {
			return nil, errors.Wrap(err, "error creating socks dialer")
		}
		transport := &http.Transport{
			Dial: d.Dial,
		}
		cli = resty.NewWithClient(&http.Client{Transport: transport})
	}

	base := options.BaseURL
	if base == "" {
		base = "http://localhost:8632/api"
	}
	base = strings.TrimRight(base, "/")
	cli.SetBaseURL(base)

	return &Rest{cli: cli, base: base}, nil
}

func (r *Rest) Server() string {
	return r.base
}

func (r *Rest) Ping(ctx context.Context) error {
	res, err := r.cli.R().SetContext(ctx).Get("/ping")
	if err != nil {
		return err
	}
	if res.IsError() {
		return errors.Errorf("ping returned %s", res.Status())
	}
	return nil
}

func (r *Rest) GetBlockHeight(ctx context.Context) (int32, error) {
	res, err := r.cli.R().SetContext(ctx).Get("/height")
	if err != nil {
		return 0, errors.Wrap(err, "error getting height")
	}
	if res.IsError() {
		return 0, errors.Errorf("height returned %s", res.Status())
	}
	height, err := strconv.ParseInt(strings.TrimSpace(res.String()), 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "error parsing height")
	}
	return int32(height), nil
}

func (r *Rest) GetBlockHashFromHeight(ctx context.Context, height int32) (*chainhash.Hash, error) {
	res, err := r.cli.R().SetContext(ctx).
		Get(fmt.Sprintf("/block-height/%d", height))
	if err != nil {
		return nil, errors.Wrap(err, "error getting block hash")
	}
	if res.IsError() {
		return nil, errors.Errorf("block-height returned %s", res.Status())
	}
	return chainhash.NewHashFromStr(strings.TrimSpace(res.String()))
}

func (r *Rest) GetBlock(ctx context.Context, hash chainhash.Hash) (*chainmodels.Block, error) {
	res, err := r.cli.R().SetContext(ctx).
		Get(fmt.Sprintf("/block/%s/raw", hash))
	if err != nil {
		return nil, errors.Wrap(err, "error getting block")
	}
	if res.IsError() {
		return nil, errors.Errorf("block returned %s", res.Status())
	}
	var block chainmodels.Block
	if err := gob.NewDecoder(bytes.NewReader(res.Body())).Decode(&block); err != nil {
		return nil, errors.Wrap(err, "error decoding block")
	}
	return &block, nil
}

func (r *Rest) GetChainTips(ctx context.Context) ([]chainmodels.ChainTip, error) {
	var tips []chainmodels.ChainTip
	res, err := r.cli.R().SetContext(ctx).
		SetResult(&tips).
		Get("/chain/tips")
	if err != nil {
		return nil, errors.Wrap(err, "error getting chain tips")
	}
	if res.IsError() {
		return nil, errors.Errorf("chain tips returned %s", res.Status())
	}
	return tips, nil
}

func (r *Rest) GetAddressUTXOs(ctx context.Context, address string) ([]chainmodels.UTXO, error) {
	var utxos []chainmodels.UTXO
	res, err := r.cli.R().SetContext(ctx).
		SetResult(&utxos).
		Get(fmt.Sprintf("/address/%s/utxo", address))
	if err != nil {
		return nil, errors.Wrap(err, "error getting address utxos")
	}
	if res.IsError() {
		return nil, errors.Errorf("address utxos returned %s", res.Status())
	}
	return utxos, nil
}

// BroadcastRawTx submits a hex-encoded transaction and returns the txid the
// node reports.
func (r *Rest) BroadcastRawTx(ctx context.Context, rawHex string) (string, error) {
	res, err := r.cli.R().SetContext(ctx).
		SetBody(rawHex).
		Post("/tx")
	if err != nil {
		return "", errors.Wrap(err, "error broadcasting transaction")
	}
	if res.IsError() {
		return "", errors.Errorf("broadcast returned %s: %s", res.Status(), res.String())
	}
	return strings.TrimSpace(res.String()), nil
}
