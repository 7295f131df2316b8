package iso7816

import (
	"testing"
)

func makeTx(sw StatusWord, data ...byte) Transaction {
	return Transaction{
		Command:  &CommandAPDU{},
		Response: &ResponseAPDU{Data: data, Status: sw},
	}
}

func TestTransaction_IsSuccess(t *testing.T) {
	tests := []struct {
		name string
		tx   Transaction
		want bool
	}{
		{
			name: "Successful Transaction (9000)",
			tx:   makeTx(SW_NO_ERROR),
			want: true,
		},
		{
			name: "Process Completed (6110) is not a final success",
			tx:   makeTx(NewStatusWord(0x61, 0x10)),
			want: false,
		},
		{
			name: "Error Transaction (6A82)",
			tx:   makeTx(SW_ERR_FILE_NOT_FOUND),
			want: false,
		},
		{
			name: "Nil Response (Incomplete Transaction)",
			tx:   Transaction{Command: &CommandAPDU{}, Response: nil},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tx.IsSuccess(); got != tt.want {
				t.Errorf("Transaction.IsSuccess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrace_Logic(t *testing.T) {
	t.Run("Empty Trace", func(t *testing.T) {
		var tr Trace
		if tr.Last() != nil {
			t.Error("Empty trace Last() should be nil")
		}
		if tr.IsSuccess() {
			t.Error("Empty trace IsSuccess() should be false")
		}
		if tr.Status() != 0 || tr.Data() != nil {
			t.Error("Empty trace should have no status and no data")
		}
	})

	t.Run("Multi-Step Trace (Scenario: 61XX then 9000)", func(t *testing.T) {
		tr := Trace{
			makeTx(NewStatusWord(0x61, 0x02)),
			makeTx(SW_NO_ERROR, 0xCA, 0xFE),
		}

		if tr.Status() != SW_NO_ERROR {
			t.Errorf("Status() = %s, want 9000", tr.Status().Hex())
		}
		if !tr.IsSuccess() {
			t.Error("Trace should be successful if the last action succeeded")
		}
		if got := tr.Data(); len(got) != 2 || got[0] != 0xCA {
			t.Errorf("Data() = %X, want CAFE", got)
		}
	})

	t.Run("Multi-Step Trace (Scenario: Failure at the end)", func(t *testing.T) {
		tr := Trace{
			makeTx(SW_NO_ERROR),
			makeTx(SW_ERR_FILE_NOT_FOUND),
		}

		if tr.IsSuccess() {
			t.Error("Trace should fail if the last action failed")
		}
	})
}
