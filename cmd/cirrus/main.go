// Cirrus: host-side execution core for sandboxed contracts.
//
// This binary demonstrates the full transaction lifecycle on a single
// shard: genesis bootstrap, contract deployment, wallet creation and a
// signed transaction flowing through pool, verification, execution and
// receipt storage.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fortiblox/cirrus/pkg/contracts"
	"github.com/fortiblox/cirrus/pkg/executor"
	"github.com/fortiblox/cirrus/pkg/logging"
	"github.com/fortiblox/cirrus/pkg/programs/flipper"
	"github.com/fortiblox/cirrus/pkg/programs/wallet"
	"github.com/fortiblox/cirrus/pkg/programs/walletshell"
	"github.com/fortiblox/cirrus/pkg/slots"
	"github.com/fortiblox/cirrus/pkg/statedb"
	"github.com/fortiblox/cirrus/pkg/transaction"
	"github.com/fortiblox/cirrus/pkg/txstore"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	dataDir     = flag.String("data-dir", "", "Data directory for state and receipts (empty = in-memory)")
	shardFlag   = flag.Uint("shard", 1, "Shard index to operate on")
	debugLog    = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("cirrus %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting cirrus %s", Version)

	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	shard := contracts.ShardIndex(*shardFlag)
	logger := logging.New("cirrus", *debugLog)

	exec, err := executor.NewBuilder(shard, logger).
		WithContract(flipper.Contract()).
		WithContract(walletshell.Contract()).
		WithContractTrait(walletshell.Contract(), walletshell.TxHandler()).
		Build()
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}

	// State database: on disk when a data directory is given, in memory
	// otherwise.
	cfg := statedb.DefaultConfig("")
	cfg.Logger = logger
	if *dataDir == "" {
		cfg.InMemory = true
	} else {
		cfg.Path = filepath.Join(*dataDir, "state")
	}
	db, err := statedb.Open(cfg, shard)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	st, records, err := db.LoadSlots(logger)
	if err != nil {
		return fmt.Errorf("load slots: %w", err)
	}
	if records == 0 {
		log.Printf("Empty state database, running genesis bootstrap for shard %d", shard)
		st, err = exec.NewStorage()
		if err != nil {
			return fmt.Errorf("bootstrap storage: %w", err)
		}
	} else {
		log.Printf("Loaded %d slot records for shard %d", records, shard)
	}

	// Receipt store.
	receiptsPath := filepath.Join(os.TempDir(), "cirrus-receipts.db")
	if *dataDir != "" {
		receiptsPath = filepath.Join(*dataDir, "receipts.db")
	}
	receipts, err := txstore.Open(txstore.DefaultConfig(receiptsPath))
	if err != nil {
		return fmt.Errorf("open receipt store: %w", err)
	}
	defer receipts.Close()

	// Deploy the demo contracts and a wallet for the user.
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate wallet key: %w", err)
	}

	var flipperAddr, shellAddr contracts.Address
	err = exec.TransactionEmulate(contracts.AddressNull, st, func(env *contracts.Env) error {
		flipperAddr, err = flipper.Deploy(env, contracts.MethodContextReset, false)
		if err != nil {
			return fmt.Errorf("deploy flipper: %w", err)
		}
		shellAddr, err = walletshell.Deploy(env, contracts.MethodContextReset, publicKey)
		if err != nil {
			return fmt.Errorf("deploy wallet shell: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("Deployed flipper at %s", flipperAddr)
	log.Printf("Deployed wallet at %s", shellAddr)

	// Build and sign a transaction flipping the flipper through the wallet.
	var payload transaction.PayloadBuilder
	err = payload.AddMethodCall(flipperAddr, flipper.FingerprintFlip,
		transaction.MethodContextWallet, nil, nil, nil)
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}
	tx := &transaction.Transaction{
		Header: transaction.Header{
			GasLimit: 1_000_000,
			Contract: shellAddr,
		},
		ReadSlots: []transaction.Slot{
			{Owner: flipperAddr, Contract: contracts.AddressSystemCode},
		},
		WriteSlots: []transaction.Slot{
			{Owner: shellAddr, Contract: contracts.AddressSystemState},
			{Owner: flipperAddr, Contract: contracts.AddressSystemState},
		},
		Payload: payload.Bytes(),
	}
	wallet.SignTransaction(privateKey, tx, 0)
	hash := tx.Hash()
	log.Printf("Signed transaction %s", hash)

	// Run it through the pool like a network submission would.
	pool, err := transaction.NewPool(transaction.PoolConfig{})
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	pool.ObserveBestBlock(tx.Header.BlockHash)
	if _, err := pool.Add(tx); err != nil {
		return fmt.Errorf("pool transaction: %w", err)
	}

	for _, pending := range pool.Pending(0) {
		if err := processTransaction(exec, st, receipts, pending); err != nil {
			return err
		}
		pool.Remove(pending.Hash())
	}

	// Observe the flip.
	err = exec.WithEnvRO(st, func(env *contracts.Env) error {
		value, err := flipper.Value(env, flipperAddr)
		if err != nil {
			return fmt.Errorf("read flipper value: %w", err)
		}
		log.Printf("Flipper value is now %v", value)
		return nil
	})
	if err != nil {
		return err
	}

	// Replaying the same transaction must fail: the wallet nonce advanced.
	if err := exec.TransactionVerify(tx, st); err == nil {
		return errors.New("replayed transaction unexpectedly verified")
	} else {
		log.Printf("Replay rejected as expected: %v", err)
	}

	if err := db.CommitSlots(st); err != nil {
		return fmt.Errorf("commit slots: %w", err)
	}
	digest, err := db.Digest()
	if err != nil {
		return fmt.Errorf("compute state digest: %w", err)
	}
	log.Printf("State digest %s", hex.EncodeToString(digest[:]))

	count, err := receipts.Count()
	if err != nil {
		return err
	}
	log.Printf("Receipt store holds %d receipts", count)
	return nil
}

// processTransaction verifies and executes one pooled transaction, storing
// a receipt regardless of the outcome.
func processTransaction(exec *executor.Executor, st *slots.Slots, receipts *txstore.Store, tx *transaction.Transaction) error {
	hash := tx.Hash()
	receipt := &txstore.Receipt{Hash: hash}

	if err := exec.TransactionVerify(tx, st); err != nil {
		log.Printf("Transaction %s failed authorization: %v", hash, err)
		receipt.ExitCode = contracts.ExitCodeFromError(err)
		return receipts.PutReceipt(receipt)
	}
	receipt.Authorized = true

	err := exec.TransactionExecute(tx, st)
	receipt.Executed = true
	receipt.ExitCode = contracts.ExitCodeFromError(err)
	receipt.SlotWrites = uint32(len(st.ModifiedItems()))
	if err != nil {
		log.Printf("Transaction %s failed execution: %v", hash, err)
	} else {
		log.Printf("Transaction %s executed", hash)
	}
	return receipts.PutReceipt(receipt)
}
