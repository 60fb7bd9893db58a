package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/lannapoly/tiewson-kiosk/internal/config"
	"github.com/lannapoly/tiewson-kiosk/internal/content"
)

type fakeSSM struct {
	value string
	err   error
	calls int
	last  *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String(f.value)}}, nil
}

func TestLoadGeminiKey(t *testing.T) {
	ctx := context.Background()

	t.Run("environment wins", func(t *testing.T) {
		f := &fakeSSM{value: "from-ssm"}
		key, err := LoadGeminiKey(ctx, &config.Config{GeminiAPIKey: "from-env", SSMAPIKeyParam: "/p"}, f)
		if err != nil || key != "from-env" || f.calls != 0 {
			t.Fatalf("key=%q err=%v calls=%d", key, err, f.calls)
		}
	})

	t.Run("ssm fallback", func(t *testing.T) {
		f := &fakeSSM{value: "from-ssm"}
		key, err := LoadGeminiKey(ctx, &config.Config{SSMAPIKeyParam: "/tiewson/key"}, f)
		if err != nil || key != "from-ssm" {
			t.Fatalf("key=%q err=%v", key, err)
		}
		if aws.ToString(f.last.Name) != "/tiewson/key" || !aws.ToBool(f.last.WithDecryption) {
			t.Errorf("request = %+v", f.last)
		}
	})

	t.Run("ssm error", func(t *testing.T) {
		boom := errors.New("AccessDenied")
		_, err := LoadGeminiKey(ctx, &config.Config{SSMAPIKeyParam: "/p"}, &fakeSSM{err: boom})
		if !errors.Is(err, boom) {
			t.Fatalf("expected wrapped SSM error, got %v", err)
		}
	})

	t.Run("empty parameter", func(t *testing.T) {
		if _, err := LoadGeminiKey(ctx, &config.Config{SSMAPIKeyParam: "/p"}, &fakeSSM{}); err == nil {
			t.Fatal("expected error for empty parameter")
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		if _, err := LoadGeminiKey(ctx, &config.Config{}, nil); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestRepositoryAndUploader(t *testing.T) {
	repo, err := Repository(&config.Config{Store: config.StoreMemory}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := repo.(*content.MemoryRepository); !ok {
		t.Errorf("repo = %T", repo)
	}
	if _, err := Repository(&config.Config{Store: config.StoreDynamo}, nil); err == nil {
		t.Error("dynamo store without AWS should fail")
	}
	if up := Uploader(&config.Config{}, nil); up != nil {
		t.Errorf("uploader without bucket = %T", up)
	}
}

func TestCompleterNone(t *testing.T) {
	c, err := Completer(context.Background(), &config.Config{Provider: config.ProviderNone}, nil)
	if err != nil || c != nil {
		t.Fatalf("completer = %v, err = %v", c, err)
	}
}

func TestCompleterOpenAIWrappedInBreaker(t *testing.T) {
	c, err := Completer(context.Background(), &config.Config{Provider: config.ProviderOpenAI, OpenAIAPIKey: "sk-test"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("nil completer")
	}
	if _, ok := c.(interface{ State() string }); !ok {
		t.Errorf("completer %T is not a breaker", c)
	}
}
