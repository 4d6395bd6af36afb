package stats

const netTCPSample = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0100007F:1F40 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 12345 1 0000000000000000 100 0 0 10 0
   1: 0100007F:1F40 0100007F:D431 01 00000010:00000020 00:00000000 00000000  1000        0 12346 1 0000000000000000 20 4 30 10 -1
`

const netTCP6Sample = `  sl  local_address                         remote_address                        st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 00000000000000000000000001000000:1F40 00000000000000000000000001000000:C350 01 00000000:00000000 00:00000000 00000000  1000        0 22345 1 0000000000000000 20 4 30 10 -1
   1: 0000000000000000FFFF00000100007F:1F40 0000000000000000FFFF00000100007F:EA60 08 00000000:00000000 00:00000000 00000000  1000        0 22346 1 0000000000000000 20 4 30 10 -1
`

const netDevSample = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo:  1000      10    0    0    0     0          0         0     1000      10    0    0    0     0       0          0
  eth0: 5000      50    0    0    0     0          0         0     7000      70    0    0    0     0       0          0
`

const netTCPMalformed = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0100007F:1F40 0100007F:D431 01 00000010:00000020 00:00000000 00000000  1000        0 12346 1 0000000000000000 20 4 30 10 -1
   1: garbage
`
